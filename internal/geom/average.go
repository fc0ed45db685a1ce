package geom

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// WeightedMeanTranslation returns the weighted arithmetic mean of vs.
// len(weights) must equal len(vs) and the weights must not sum to zero.
func WeightedMeanTranslation(vs []r3.Vec, weights []float64) r3.Vec {
	xs := make([]float64, len(vs))
	ys := make([]float64, len(vs))
	zs := make([]float64, len(vs))
	for i, v := range vs {
		xs[i], ys[i], zs[i] = v.X, v.Y, v.Z
	}
	return r3.Vec{
		X: stat.Mean(xs, weights),
		Y: stat.Mean(ys, weights),
		Z: stat.Mean(zs, weights),
	}
}

// WeightedMeanRotation averages rotations on the rotation group. The result
// is the eigenvector of M = Σ wᵢ qᵢqᵢᵀ with the largest eigenvalue, which is
// insensitive to the q/-q sign ambiguity. Non-positive weights are skipped.
// ok is false when no weight is positive or the factorisation fails.
func WeightedMeanRotation(rs []Rotation, weights []float64) (avg Rotation, ok bool) {
	m := mat.NewSymDense(4, nil)
	total := 0.0
	for i, r := range rs {
		w := weights[i]
		if w <= 0 {
			continue
		}
		q := r.unit()
		m.SymRankOne(m, w, mat.NewVecDense(4, []float64{q.Real, q.Imag, q.Jmag, q.Kmag}))
		total += w
	}
	if total == 0 {
		return IdentityRotation(), false
	}

	var es mat.EigenSym
	if !es.Factorize(m, true) {
		return IdentityRotation(), false
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// eigenvalues are ascending, so the dominant vector is the last column
	q := quat.Number{
		Real: vecs.At(0, 3),
		Imag: vecs.At(1, 3),
		Jmag: vecs.At(2, 3),
		Kmag: vecs.At(3, 3),
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return Rotation{q: normalise(q)}, true
}
