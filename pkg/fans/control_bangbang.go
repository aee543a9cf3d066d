package fans

// ControlBangBang is watermark control: the fan turns off while the
// temperature is "heating" toward the target and runs at max speed once it
// overshoots, with max_delta of hysteresis on both edges.
type ControlBangBang struct {
	tf       *TemperatureFan
	maxDelta float64
	heating  bool
}

func newControlBangBang(tf *TemperatureFan, maxDelta float64) *ControlBangBang {
	return &ControlBangBang{tf: tf, maxDelta: maxDelta}
}

func (c *ControlBangBang) TemperatureCallback(readTime, temp float64) {
	if temp < c.tf.MinTempCutoff() {
		c.tf.setSpeed(readTime, 0)
		return
	}
	_, target := c.tf.Temp()
	if c.heating && temp >= target+c.maxDelta {
		c.heating = false
	} else if !c.heating && temp <= target-c.maxDelta {
		c.heating = true
	}
	if c.heating {
		c.tf.setSpeed(readTime, 0)
	} else {
		c.tf.setSpeed(readTime, c.tf.MaxSpeed())
	}
}
