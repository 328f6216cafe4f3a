// Copyright (c) 2024, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tuda

import (
	"fmt"

	"github.com/emer/etable/v2/etensor"
	"gonum.org/v1/gonum/mat"
)

// FoldData bundles the per-fold arrays consumed by held-out state
// estimation: training and test features (flattened time x features), the
// training state time-course from the Trainer (flattened time x states),
// and both per-trial length vectors.  All per-fold artifacts are owned by
// one fold for the duration of its evaluation and discarded after
// prediction.
type FoldData struct {

	// training features, flattened (train-trials * ttrial) x features
	XTrain *etensor.Float64

	// test features, flattened (test-trials * ttrial) x features
	XTest *etensor.Float64

	// training state time-course from the Trainer, flattened time x states
	GammaTrain *etensor.Float64

	// per-trial lengths of training trials (all equal to TTrial)
	LensTrain []int

	// per-trial lengths of test trials (all equal to TTrial)
	LensTest []int

	// uniform trial length
	TTrial int

	// number of latent decoding states K
	NStates int
}

// GammaEstimator estimates the state time-course for the held-out trials
// of one fold, without any use of the held-out labels.  All
// implementations return a ttrial x test-trials x states tensor that is
// consumed identically downstream.
type GammaEstimator interface {
	EstimateGamma(fd *FoldData) (*etensor.Float64, error)
}

// newEstimator returns the estimator for the configured method.
// The method set is validated in Config.Validate; distrib is the external
// collaborator required by the Distrib method.
func newEstimator(cfg *Config, distrib DistribEstimator) (GammaEstimator, error) {
	switch cfg.Estim {
	case TrainAvg:
		return &TrainAvgGamma{}, nil
	case RidgeGamma:
		return &RidgeGammaEst{Lambda: cfg.Lambda}, nil
	case Distrib:
		if distrib == nil {
			return nil, fmt.Errorf("tuda: Estim method Distrib requires a DistribEstimator collaborator")
		}
		return &DistribGamma{Est: distrib}, nil
	}
	return nil, fmt.Errorf("tuda: Estim method %d not in recognized set", cfg.Estim)
}

// TrainAvgGamma estimates held-out state time-courses as the average,
// over training trials, of the training Gamma at each time point: one
// ttrial x states profile assigned identically to every test trial.
// This avoids any use of held-out labels by relying only on the
// fold-level population average of decoder usage.
type TrainAvgGamma struct{}

func (es *TrainAvgGamma) EstimateGamma(fd *FoldData) (*etensor.Float64, error) {
	ntrain := len(fd.LensTrain)
	ntest := len(fd.LensTest)
	nk := fd.NStates
	prof := make([]float64, fd.TTrial*nk)
	for tr := 0; tr < ntrain; tr++ {
		for t := 0; t < fd.TTrial; t++ {
			for k := 0; k < nk; k++ {
				prof[t*nk+k] += fd.GammaTrain.Value([]int{tr*fd.TTrial + t, k})
			}
		}
	}
	for i := range prof {
		prof[i] /= float64(ntrain)
	}
	gt := etensor.NewFloat64([]int{fd.TTrial, ntest, nk}, nil, []string{"Time", "Trial", "State"})
	for t := 0; t < fd.TTrial; t++ {
		for tt := 0; tt < ntest; tt++ {
			for k := 0; k < nk; k++ {
				gt.Set([]int{t, tt, k}, prof[t*nk+k])
			}
		}
	}
	return gt, nil
}

// RidgeGammaEst estimates held-out state time-courses by regressing, for
// each time point independently, the training features (with an appended
// constant column) onto the training Gamma at that time point, with ridge
// penalty Lambda, then applying the fitted regression to the test
// features.  Each predicted row is projected back onto the probability
// simplex by Project.
type RidgeGammaEst struct {

	// ridge penalty added to the normal-equations diagonal -- must be > 0,
	// which guarantees invertibility even for constant feature columns
	Lambda float64
}

func (es *RidgeGammaEst) EstimateGamma(fd *FoldData) (*etensor.Float64, error) {
	ntrain := len(fd.LensTrain)
	ntest := len(fd.LensTest)
	nk := fd.NStates
	nf := fd.XTrain.Dim(1)
	nb := nf + 1 // constant column appended
	if es.Lambda <= 0 {
		return nil, fmt.Errorf("tuda.RidgeGammaEst: Lambda is %g, must be > 0", es.Lambda)
	}
	gt := etensor.NewFloat64([]int{fd.TTrial, ntest, nk}, nil, []string{"Time", "Trial", "State"})
	b := mat.NewDense(ntrain, nb, nil)
	g := mat.NewDense(ntrain, nk, nil)
	a := mat.NewDense(nb, nb, nil)
	rhs := mat.NewDense(nb, nk, nil)
	row := make([]float64, nk)
	for t := 0; t < fd.TTrial; t++ {
		for tr := 0; tr < ntrain; tr++ {
			ti := tr*fd.TTrial + t
			for j := 0; j < nf; j++ {
				b.Set(tr, j, fd.XTrain.Value([]int{ti, j}))
			}
			b.Set(tr, nf, 1)
			for k := 0; k < nk; k++ {
				g.Set(tr, k, fd.GammaTrain.Value([]int{ti, k}))
			}
		}
		a.Mul(b.T(), b)
		for j := 0; j < nb; j++ {
			a.Set(j, j, a.At(j, j)+es.Lambda)
		}
		rhs.Mul(b.T(), g)
		var w mat.Dense
		if err := w.Solve(a, rhs); err != nil {
			return nil, fmt.Errorf("tuda.RidgeGammaEst: ridge solve failed at time point %d: %v", t, err)
		}
		for tt := 0; tt < ntest; tt++ {
			ti := tt*fd.TTrial + t
			for k := 0; k < nk; k++ {
				v := w.At(nf, k) // constant column
				for j := 0; j < nf; j++ {
					v += fd.XTest.Value([]int{ti, j}) * w.At(j, k)
				}
				row[k] = v
			}
			Project(row)
			for k := 0; k < nk; k++ {
				gt.Set([]int{t, tt, k}, row[k])
			}
		}
	}
	return gt, nil
}

// Project restores a predicted state-probability row to the simplex by
// subtracting the row's minimum value clipped at zero and renormalizing
// by the row sum.  This is an approximate simplex projection, not the
// Euclidean one -- downstream accuracy numbers are calibrated against
// exactly this behavior, so it must not be replaced by a formally correct
// projection.  A row summing to zero falls back to uniform.
func Project(row []float64) {
	mn := row[0]
	for _, v := range row {
		if v < mn {
			mn = v
		}
	}
	if mn < 0 {
		for i := range row {
			row[i] -= mn
		}
	}
	sum := 0.0
	for _, v := range row {
		sum += v
	}
	if sum <= 0 {
		u := 1.0 / float64(len(row))
		for i := range row {
			row[i] = u
		}
		return
	}
	for i := range row {
		row[i] /= sum
	}
}

// DistribGamma delegates held-out state estimation to the external
// unsupervised distributional predictor, trusting its output shape.
type DistribGamma struct {

	// the external distributional state-prediction routine
	Est DistribEstimator
}

func (es *DistribGamma) EstimateGamma(fd *FoldData) (*etensor.Float64, error) {
	gt, err := es.Est.EstimateGamma(fd.XTrain, fd.GammaTrain, fd.XTest, fd.LensTrain, fd.LensTest)
	if err != nil {
		return nil, err
	}
	ntest := len(fd.LensTest)
	if gt.NumDims() != 3 || gt.Dim(0) != fd.TTrial || gt.Dim(1) != ntest || gt.Dim(2) != fd.NStates {
		return nil, fmt.Errorf("tuda.DistribGamma: estimator returned shape %v, need [%d %d %d]", gt.Shp, fd.TTrial, ntest, fd.NStates)
	}
	return gt, nil
}
