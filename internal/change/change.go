// Package change decides whether a fresh snapshot differs enough from the
// last delivered one to warrant a post.
package change

import "math"

// epsilon guards the percentage base when the previous value is ~0.
const epsilon = 1e-9

// ShouldDeliver reports whether any trigger key changed significantly between
// prev (last delivered values) and cur. Pure function of its inputs.
//
// Rules, per trigger key:
//   - key absent from prev: changed (every newly observed key delivers once);
//   - thresholdAbs > 0 and |cur-prev| >= thresholdAbs: changed;
//   - else thresholdPct > 0 and the percentage diff relative to
//     max(|prev|, epsilon) >= thresholdPct: changed;
//   - both thresholds zero: any nonzero difference counts.
//
// Short-circuits on the first changed key.
func ShouldDeliver(prev, cur map[string]float64, triggers []string, thresholdAbs, thresholdPct float64) bool {
	for _, key := range triggers {
		c, ok := cur[key]
		if !ok {
			continue
		}
		p, ok := prev[key]
		if !ok {
			return true
		}
		if changed(p, c, thresholdAbs, thresholdPct) {
			return true
		}
	}
	return false
}

func changed(prev, cur, thresholdAbs, thresholdPct float64) bool {
	diff := math.Abs(cur - prev)
	if thresholdAbs > 0 {
		if diff >= thresholdAbs {
			return true
		}
	}
	if thresholdPct > 0 {
		base := math.Max(math.Abs(prev), epsilon)
		if diff/base*100.0 >= thresholdPct {
			return true
		}
	}
	if thresholdAbs == 0 && thresholdPct == 0 {
		return diff != 0
	}
	return false
}
