package services

// Handicap policy: the lower-level side of a challenge gets a percentage
// boost on its raw progress, 5% per level of gap, capped at 50%. The
// higher-level side always gets 0. Constants are policy, the contract is:
// monotonic in the gap, zero at zero gap, never negative, bounded.
const (
	HandicapPerLevel = 5
	HandicapCap      = 50
)

// HandicapPercents maps two competitor levels to their fairness multipliers.
func HandicapPercents(levelA, levelB int) (percentA, percentB int) {
	if levelA < levelB {
		return handicapForGap(levelB - levelA), 0
	}
	if levelB < levelA {
		return 0, handicapForGap(levelA - levelB)
	}
	return 0, 0
}

func handicapForGap(gap int) int {
	p := gap * HandicapPerLevel
	if p > HandicapCap {
		return HandicapCap
	}
	return p
}

// AdjustedProgress scales a raw counter by (1 + percent/100), floored.
// Integer math keeps this exact: floor(raw * (100+p) / 100).
func AdjustedProgress(raw int64, percent int) int64 {
	if percent <= 0 {
		return raw
	}
	return raw * int64(100+percent) / 100
}
