package review

import "time"

// baseIntervals is the review ladder, indexed by cumulative review count.
var baseIntervals = [...]time.Duration{
	5 * time.Minute,
	30 * time.Minute,
	4 * time.Hour,
	24 * time.Hour,
	3 * 24 * time.Hour,
	7 * 24 * time.Hour,
	14 * 24 * time.Hour,
	30 * 24 * time.Hour,
}

// NextInterval returns the wait before the next review: the ladder step for
// reviewCount stretched by 1 + level/100.
func NextInterval(reviewCount, level int) time.Duration {
	idx := min(max(reviewCount, 0), len(baseIntervals)-1)
	level = clampLevel(level)
	return time.Duration(float64(baseIntervals[idx]) * (1 + float64(level)/100))
}

func clampLevel(level int) int {
	return min(max(level, 0), 100)
}

// smoothLevel blends the current level with the success-rate target:
// floor(level*0.7 + target*0.3), clamped to [0, 100].
func smoothLevel(level, target int) int {
	return clampLevel((clampLevel(level)*7 + clampLevel(target)*3) / 10)
}

// Score grades one answer. A correct answer earns 70 points plus up to 30 for
// speed; an incorrect one earns nothing.
func Score(correct bool, elapsed, limit time.Duration) int {
	if !correct {
		return 0
	}
	bonus := 0.0
	if limit > 0 {
		bonus = max(0, 1-float64(max(elapsed, 0))/float64(limit))
	}
	return min(int(70+30*bonus), 100)
}
