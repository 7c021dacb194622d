package trend

import (
	"math"
	"sort"
)

// MannWhitneyOneSidedP tests whether latestSamples are stochastically larger
// than baselineSamples. It returns the one-sided p-value from the
// normal-approximation with mid-rank tie handling and tie-corrected variance.
// The test abstains (ok=false) when either side has fewer than 2 samples or
// the variance degenerates to zero.
func MannWhitneyOneSidedP(baselineSamples, latestSamples []float64) (p float64, ok bool) {
	n1 := len(latestSamples)
	n2 := len(baselineSamples)

	if n1 < 2 || n2 < 2 {
		return 0, false
	}

	type obs struct {
		value  float64
		latest bool
	}

	combined := make([]obs, 0, n1+n2)
	for _, v := range latestSamples {
		combined = append(combined, obs{value: v, latest: true})
	}

	for _, v := range baselineSamples {
		combined = append(combined, obs{value: v})
	}

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].value < combined[j].value
	})

	// Mid-rank over each tied group, accumulating the rank sum of the
	// latest side and the tie correction term.
	var (
		rankSumLatest float64
		tieSum        float64
	)

	for start := 0; start < len(combined); {
		end := start
		for end < len(combined) && combined[end].value == combined[start].value {
			end++
		}

		groupSize := float64(end - start)
		tieSum += groupSize*groupSize*groupSize - groupSize
		avgRank := float64(start+1+end) / 2

		for j := start; j < end; j++ {
			if combined[j].latest {
				rankSumLatest += avgRank
			}
		}

		start = end
	}

	uLatest := rankSumLatest - float64(n1)*float64(n1+1)/2
	total := float64(n1 + n2)
	variance := (float64(n1) * float64(n2) / 12) * ((total + 1) - tieSum/(total*(total-1)))

	if variance <= 0 {
		return 0, false
	}

	meanU := float64(n1) * float64(n2) / 2
	z := (uLatest - meanU) / math.Sqrt(variance)
	cdf := 0.5 * (1 + math.Erf(z/math.Sqrt2))
	p = 1 - cdf

	if p < 0 {
		p = 0
	}

	if p > 1 {
		p = 1
	}

	return p, true
}
