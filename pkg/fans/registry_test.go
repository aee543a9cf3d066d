package fans

import "testing"

func TestRegistryReservedIndex(t *testing.T) {
	primary := testFan(FanConfig{Name: "fan", FourWire: true}, &fakePWM{}, nil)
	r := NewRegistry(primary)

	other := testFan(FanConfig{Name: "fan_generic aux", FourWire: true}, &fakePWM{}, nil)
	if err := r.Add(0, other); err == nil {
		t.Error("index 0 registration accepted, want rejection")
	}
	if got, _ := r.Get(0); got != primary {
		t.Error("primary fan displaced from index 0")
	}
}

func TestRegistryDuplicateIndex(t *testing.T) {
	r := NewRegistry(nil)
	a := testFan(FanConfig{Name: "fan_generic a", FourWire: true}, &fakePWM{}, nil)
	b := testFan(FanConfig{Name: "fan_generic b", FourWire: true}, &fakePWM{}, nil)

	if err := r.Add(2, a); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(2, b); err == nil {
		t.Error("duplicate index accepted, want rejection")
	}
	if got, _ := r.Get(2); got != a {
		t.Error("duplicate registration displaced the original fan")
	}
}

func TestRegistryIndexes(t *testing.T) {
	primary := testFan(FanConfig{Name: "fan", FourWire: true}, &fakePWM{}, nil)
	r := NewRegistry(primary)
	aux := testFan(FanConfig{Name: "fan_generic aux", FourWire: true}, &fakePWM{}, nil)
	if err := r.Add(3, aux); err != nil {
		t.Fatal(err)
	}
	idx := r.Indexes()
	if len(idx) != 2 || idx[0] != 0 || idx[1] != 3 {
		t.Errorf("Indexes = %v, want [0 3]", idx)
	}
}
