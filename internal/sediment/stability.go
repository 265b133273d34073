package sediment

import "math"

const (
	// wilsonZ is the normal quantile for a 95% confidence interval.
	wilsonZ = 1.96

	// neutralStability is the score of a target nobody has voted on.
	neutralStability = 0.5

	reportPenalty    = 0.1
	maxReportPenalty = 0.5
)

// WilsonLowerBound is the lower bound of the Wilson score interval for the
// upvote proportion. With no votes it returns the neutral prior 0.5.
func WilsonLowerBound(upvotes, downvotes int) float64 {
	n := float64(upvotes + downvotes)
	if n <= 0 {
		return neutralStability
	}
	phat := float64(upvotes) / n
	z2 := wilsonZ * wilsonZ
	num := phat + z2/(2*n) - wilsonZ*math.Sqrt((phat*(1-phat)+z2/(4*n))/n)
	return num / (1 + z2/n)
}

// Stability combines the Wilson bound with a capped report penalty and clamps
// the result to [0, 1].
func Stability(upvotes, downvotes, reports int) float64 {
	if upvotes < 0 {
		upvotes = 0
	}
	if downvotes < 0 {
		downvotes = 0
	}
	penalty := math.Min(float64(max(reports, 0))*reportPenalty, maxReportPenalty)
	s := WilsonLowerBound(upvotes, downvotes) - penalty
	return math.Max(0, math.Min(1, s))
}
