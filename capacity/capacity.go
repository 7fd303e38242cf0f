// Package capacity implements the pure admission-control arithmetic: turning
// a busy rating into usable capacity and a retry-after hint.
package capacity

import "math"

// percent is the fixed conservative table mapping busy (0-10) to the
// fraction of total capacity that is usable.
var percent = [11]float64{
	0: 1.00,
	1: 1.00,
	2: 1.00,
	3: 0.80,
	4: 0.65,
	5: 0.50,
	6: 0.35,
	7: 0.25,
	8: 0.15,
	9: 0.10,
	10: 0.00,
}

// Clamp forces busy into [0, 10], rounding to the nearest integer.
func Clamp(busy float64) int {
	r := int(math.Round(busy))
	if r < 0 {
		return 0
	}
	if r > 10 {
		return 10
	}
	return r
}

// Usable computes floor(total * percent[busy]) - reserve, floored at 0. busy
// must already be an integer in [0, 10]; callers pass a pre-clamped value.
func Usable(busy int, total, reserve int) int {
	if busy < 0 {
		busy = 0
	}
	if busy > 10 {
		busy = 10
	}
	usable := int(math.Floor(float64(total) * percent[busy]))
	usable -= reserve
	if usable < 0 {
		return 0
	}
	return usable
}

// Percent returns the raw conservative-table fraction for a clamped busy
// value; exposed for status reporting and tests.
func Percent(busy int) float64 {
	if busy < 0 {
		busy = 0
	}
	if busy > 10 {
		busy = 10
	}
	return percent[busy]
}
