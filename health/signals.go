package health

// Point is one breakpoint of a monotonic piecewise-linear scoring function.
type Point struct {
	Value float64
	Score float64
}

// scoreFromBreakpoints maps value to [0,10] via linear interpolation between
// the nearest breakpoints; values beyond the last breakpoint clamp to its
// score. points must be sorted ascending by Value.
func scoreFromBreakpoints(value float64, points []Point) float64 {
	if len(points) == 0 {
		return 10
	}
	if value <= points[0].Value {
		return clampScore(points[0].Score)
	}
	for i := 1; i < len(points); i++ {
		if value <= points[i].Value {
			lo, hi := points[i-1], points[i]
			if hi.Value == lo.Value {
				return clampScore(hi.Score)
			}
			frac := (value - lo.Value) / (hi.Value - lo.Value)
			return clampScore(lo.Score + frac*(hi.Score-lo.Score))
		}
	}
	return clampScore(points[len(points)-1].Score)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}

var cpuBreakpoints = []Point{{0.0, 0}, {0.5, 3}, {0.8, 7}, {1.0, 10}}
var memBreakpoints = []Point{{0.0, 0}, {0.6, 3}, {0.85, 7}, {1.0, 10}}
var loadBreakpoints = []Point{{0.0, 0}, {1.0, 5}, {2.0, 10}}
var errorRateBreakpoints = []Point{{0.0, 0}, {0.05, 5}, {0.2, 10}}
var relativeBreakpoints = []Point{{0.0, 0}, {1.0, 6}, {1.5, 10}}

// fail-closed maximum contributed by any signal that could not be sampled.
const missingSignalScore = 10
