package stats

import (
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// TruncatedNormal samples a normal distribution restricted to [lo, hi] using
// the inverse transform method.
// Reference: https://www.r-bloggers.com/2020/08/generating-data-from-a-truncated-distribution/
type TruncatedNormal struct {
	norm    distuv.Normal
	uniform distuv.Uniform
}

func NewTruncatedNormal(lo, hi, mean, stdDev float64, seed uint64) *TruncatedNormal {
	norm := distuv.Normal{
		Mu:    mean,
		Sigma: stdDev,
		Src:   rand.NewSource(seed),
	}
	return &TruncatedNormal{
		norm: norm,
		uniform: distuv.Uniform{
			Min: norm.CDF(lo),
			Max: norm.CDF(hi),
			Src: rand.NewSource(seed + 1),
		},
	}
}

func (d *TruncatedNormal) Rand() float64 {
	return d.norm.Quantile(d.uniform.Rand())
}

// SampleTruncatedNormalDistribution draws a single sample, seeding from the
// current time.
func SampleTruncatedNormalDistribution(lo, hi, mean, stdDev float64) float64 {
	return NewTruncatedNormal(lo, hi, mean, stdDev, uint64(time.Now().UTC().UnixNano())).Rand()
}
