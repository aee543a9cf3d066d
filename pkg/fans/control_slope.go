package fans

import (
	"fmt"
	"math"
)

// slopeHysteresis keeps the fan from chattering around the cutoff.
const slopeHysteresis = 0.5

// ControlSlope maps temperature onto fan speed along a configured curve
// between min_temp and a buffered max_temp. The active curve temperature,
// truncated to 0.1, is published as the displayed target.
type ControlSlope struct {
	tf       *TemperatureFan
	curve    func(readTime, temp float64)
	minSpeed float64
	minTemp  float64
	maxTemp  float64
}

func newControlSlope(tf *TemperatureFan, slope string) (*ControlSlope, error) {
	c := &ControlSlope{
		tf:       tf,
		minSpeed: tf.MinSpeed(),
		minTemp:  tf.minTemp,
		// Keep the curve maximum away from max_temp.
		maxTemp: tf.maxTemp * maxTempBuffer,
	}
	// A very low min_temp skews the curve. The effective floor is ambient
	// room temperature or the cutoff, whichever is higher.
	if c.minTemp < ambientTemp || c.minTemp < tf.minTempCutoff {
		if tf.minTempCutoff > ambientTemp {
			c.minTemp = tf.minTempCutoff
		} else {
			c.minTemp = ambientTemp
		}
	}
	switch slope {
	case "linear":
		c.curve = c.linear
	case "log":
		c.curve = c.log
	case "exponential":
		c.curve = c.exponential
	default:
		return nil, fmt.Errorf("unknown slope curve %q", slope)
	}
	return c, nil
}

func (c *ControlSlope) TemperatureCallback(readTime, temp float64) {
	cutoff := c.tf.MinTempCutoff()
	if temp < cutoff-slopeHysteresis {
		c.tf.setSpeed(readTime, 0)
		return
	}
	if temp > cutoff+slopeHysteresis {
		temp = math.Max(c.minTemp, math.Min(temp, c.maxTemp))
		c.tf.setDisplayTarget(math.Trunc(temp*10) / 10)
		c.curve(readTime, temp)
	}
	// Inside the hysteresis band the previous speed holds.
}

func (c *ControlSlope) apply(readTime, speed float64) {
	if speed > c.minSpeed {
		c.tf.setSpeed(readTime, speed)
	} else {
		c.tf.setSpeed(readTime, c.minSpeed)
	}
}

func (c *ControlSlope) linear(readTime, temp float64) {
	proportion := (temp - c.minTemp) / (c.maxTemp - c.minTemp)
	speed := (c.tf.MaxSpeed() - c.tf.MinSpeed()) * proportion
	c.apply(readTime, speed)
}

func (c *ControlSlope) log(readTime, temp float64) {
	// Offset the range to start at 1 so log(0) never happens.
	offsetMax := c.maxTemp - c.minTemp + 1
	offsetTemp := temp - c.minTemp + 1
	normalized := math.Log(offsetTemp) / math.Log(offsetMax)
	speed := (c.tf.MaxSpeed() - c.tf.MinSpeed()) * normalized
	c.apply(readTime, speed)
}

func (c *ControlSlope) exponential(readTime, temp float64) {
	normalized := (temp - c.minTemp) / (c.maxTemp - c.minTemp)
	speed := (c.tf.MaxSpeed() - c.tf.MinSpeed()) * normalized * normalized
	c.apply(readTime, speed)
}
