package alert

// Crossed applies the condition to a pair of consecutive observations against threshold t.
//
//	above:        cur >  t && prev <= t
//	below:        cur <  t && prev >= t
//	crosses_up:   prev <  t && cur >= t
//	crosses_down: prev >  t && cur <= t
func (c Condition) Crossed(prev, cur, t float64) bool {
	switch c {
	case ConditionAbove:
		return cur > t && prev <= t
	case ConditionBelow:
		return cur < t && prev >= t
	case ConditionCrossesUp:
		return prev < t && cur >= t
	case ConditionCrossesDown:
		return prev > t && cur <= t
	}
	return false
}

func (c Condition) IsValid() bool {
	switch c {
	case ConditionAbove, ConditionBelow, ConditionCrossesUp, ConditionCrossesDown:
		return true
	}
	return false
}
