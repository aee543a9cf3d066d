package sensors

import (
	"coolctl/pkg/config"
)

// FromConfig builds a temperature source from a config section's sensor
// options:
//
//	sensor_type: thermal_zone | host | manual
//	sensor_path: sysfs file for thermal_zone
//	sensor_key:  hwmon sensor key substring for host
func FromConfig(sec *config.Section) (Source, error) {
	kind, err := sec.GetChoice("sensor_type",
		[]string{"thermal_zone", "host", "manual"}, "thermal_zone")
	if err != nil {
		return nil, err
	}
	switch kind {
	case "thermal_zone":
		path, err := sec.Get("sensor_path", "/sys/class/thermal/thermal_zone0/temp")
		if err != nil {
			return nil, err
		}
		return NewThermalZone(sec.Name(), path), nil
	case "host":
		key, err := sec.Get("sensor_key", "cpu")
		if err != nil {
			return nil, err
		}
		return NewHostSensor(sec.Name(), key), nil
	default:
		temp, err := sec.GetFloat("sensor_initial_temp", 25.0)
		if err != nil {
			return nil, err
		}
		return NewManual(sec.Name(), temp), nil
	}
}
