package fans

import "math"

// ControlPID regulates with a derivative-filtered PID loop. The output is
// inverted: a large positive control output (temperature below target) maps
// to a slow fan, overshoot maps toward max speed.
type ControlPID struct {
	tf           *TemperatureFan
	kp, ki, kd   float64
	minDerivTime float64
	tempIntegMax float64

	prevTemp      float64
	prevTempTime  float64
	prevTempDeriv float64
	prevTempInteg float64
}

func newControlPID(tf *TemperatureFan, cfg *TemperatureFanConfig) *ControlPID {
	c := &ControlPID{
		tf:           tf,
		kp:           cfg.Kp,
		ki:           cfg.Ki,
		kd:           cfg.Kd,
		minDerivTime: cfg.DerivTime,
		prevTemp:     ambientTemp,
	}
	if c.ki != 0 {
		c.tempIntegMax = tf.MaxSpeed() / c.ki
	}
	return c
}

func (c *ControlPID) TemperatureCallback(readTime, temp float64) {
	// Below the cutoff the fan is forced off and the loop state is left
	// untouched, so regulation resumes where it left off.
	if temp < c.tf.MinTempCutoff() {
		c.tf.setSpeed(readTime, 0)
		return
	}
	_, target := c.tf.Temp()
	timeDiff := readTime - c.prevTempTime
	tempDiff := temp - c.prevTemp
	var tempDeriv float64
	if timeDiff >= c.minDerivTime {
		tempDeriv = tempDiff / timeDiff
	} else {
		tempDeriv = (c.prevTempDeriv*(c.minDerivTime-timeDiff) + tempDiff) /
			c.minDerivTime
	}
	tempErr := target - temp
	tempInteg := c.prevTempInteg + tempErr*timeDiff
	tempInteg = math.Max(0, math.Min(c.tempIntegMax, tempInteg))

	co := c.kp*tempErr + c.ki*tempInteg - c.kd*tempDeriv
	maxSpeed := c.tf.MaxSpeed()
	boundedCo := math.Max(0, math.Min(maxSpeed, co))
	c.tf.setSpeed(readTime, math.Max(c.tf.MinSpeed(), maxSpeed-boundedCo))

	c.prevTemp = temp
	c.prevTempTime = readTime
	c.prevTempDeriv = tempDeriv
	// Anti-windup: only bank the integral while the output is unsaturated.
	if co == boundedCo {
		c.prevTempInteg = tempInteg
	}
}
