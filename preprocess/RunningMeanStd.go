package preprocess

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// RunningMeanStd tracks the elementwise mean and (biased) variance of
// a stream of equally sized vectors, merging batch moments with the
// parallel algorithm of Chan et al.
type RunningMeanStd struct {
	mean  []float64
	vari  []float64
	count float64
}

// NewRunningMeanStd returns a tracker over vectors of the given size,
// starting from mean 0 and variance 1 with a negligible prior count
func NewRunningMeanStd(size int) *RunningMeanStd {
	vari := make([]float64, size)
	for i := range vari {
		vari[i] = 1
	}
	return &RunningMeanStd{
		mean:  make([]float64, size),
		vari:  vari,
		count: 1e-4,
	}
}

// Size returns the length of tracked vectors
func (r *RunningMeanStd) Size() int {
	return len(r.mean)
}

// Mean returns the running mean
func (r *RunningMeanStd) Mean() []float64 {
	return append([]float64(nil), r.mean...)
}

// Var returns the running variance
func (r *RunningMeanStd) Var() []float64 {
	return append([]float64(nil), r.vari...)
}

// Count returns the number of vectors seen, plus the prior count
func (r *RunningMeanStd) Count() float64 {
	return r.count
}

// Update merges a batch of vectors into the running moments
func (r *RunningMeanStd) Update(batch [][]float64) error {
	if len(batch) == 0 {
		return nil
	}

	column := make([]float64, len(batch))
	mean := make([]float64, r.Size())
	vari := make([]float64, r.Size())
	for j := range mean {
		for i, row := range batch {
			if len(row) != r.Size() {
				return fmt.Errorf("update: illegal vector length "+
					"\n\twant(%v)\n\thave(%v)", r.Size(), len(row))
			}
			column[i] = row[j]
		}
		mean[j] = stat.Mean(column, nil)
		vari[j] = stat.Moment(2, column, nil)
	}
	return r.UpdateFromMoments(mean, vari, float64(len(batch)))
}

// UpdateFromMoments merges the mean and biased variance of a batch of
// count vectors into the running moments
func (r *RunningMeanStd) UpdateFromMoments(mean, vari []float64,
	count float64) error {
	if len(mean) != r.Size() || len(vari) != r.Size() {
		return fmt.Errorf("updateFromMoments: illegal moment lengths "+
			"\n\twant(%v)\n\thave(%v, %v)", r.Size(), len(mean), len(vari))
	}
	if count <= 0 {
		return nil
	}

	total := r.count + count
	for i := range r.mean {
		delta := mean[i] - r.mean[i]
		m2 := r.vari[i]*r.count + vari[i]*count +
			delta*delta*r.count*count/total
		r.mean[i] += delta * count / total
		r.vari[i] = m2 / total
	}
	r.count = total
	return nil
}
