package config

import "time"

// ClampInterval snaps a caller-supplied interval in milliseconds to the
// configured step and range. Non-positive input yields the default.
func (b BoardroomConfig) ClampInterval(ms int64) time.Duration {
	if ms <= 0 {
		return b.SpeakingInterval
	}
	d := time.Duration(ms) * time.Millisecond
	if b.IntervalStep > 0 {
		// 四舍五入到最近的步长
		d = ((d + b.IntervalStep/2) / b.IntervalStep) * b.IntervalStep
	}
	if d < b.MinInterval {
		d = b.MinInterval
	}
	if b.MaxInterval > 0 && d > b.MaxInterval {
		d = b.MaxInterval
	}
	return d
}
