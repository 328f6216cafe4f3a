// Copyright (c) 2024, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tuda

import (
	"fmt"

	"github.com/emer/etable/v2/etensor"
)

// Trainer is the external decoder trainer: given flattened training
// features (time x features), responses (time x response-dims), per-trial
// lengths, and the configuration, it returns a fitted multi-state model
// and the training state time-course (flattened-time x states).
// It is the externally-owned hard computation: a blocking, synchronous
// call with no partial-result visibility.  Errors propagate unmodified to
// the caller -- a single failed fold invalidates the whole estimate.
type Trainer interface {
	Fit(x, y *etensor.Float64, lens []int, cfg *Config) (FitModel, *etensor.Float64, error)
}

// FitModel is the opaque fitted model returned by a Trainer.  It is a
// capability boundary: the evaluation only ever uses it through the
// CoefExtractor or DiscrimModel capability interfaces below, depending on
// the configured PredictMode.
type FitModel interface{}

// CoefExtractor is the capability of extracting per-state linear
// coefficients from a fitted model, shaped features x response-dims x
// states.  Required of the FitModel under LinearPerState and
// PlainRegression prediction modes.
type CoefExtractor interface {
	Coefs() *etensor.Float64
}

// DiscrimModel is the capability of a discriminant-analysis fitted model
// to predict responses directly from estimated state time-courses and
// test features, returning predictions shaped time x trials x
// response-dims.  Required of the FitModel under the Discrim mode; the
// whole model is retained for the fold rather than reduced to
// coefficients.
type DiscrimModel interface {
	Predict(gamma, x *etensor.Float64, classif, constantY bool) (*etensor.Float64, error)
}

// DistribEstimator is the external unsupervised distributional
// state-prediction routine backing the Distrib estimation method: given
// training features, the training state time-course, test features and
// both per-trial length vectors, it returns the estimated test state
// time-course shaped time x test-trials x states.
type DistribEstimator interface {
	EstimateGamma(xTrain, gammaTrain, xTest *etensor.Float64, lensTrain, lensTest []int) (*etensor.Float64, error)
}

// Preprocessor is the external generic preprocessing step (centering,
// feature construction, intercept handling).  It may change the response
// dimensionality (e.g. adding an intercept column) and must report the
// resulting one.
type Preprocessor interface {
	Preprocess(x, y *etensor.Float64, lens []int, cfg *Config) (xp, yp *etensor.Float64, lensp []int, qstar int, err error)
}

// uniformLen returns the common trial length, or an error when trial
// lengths are unequal -- a fatal precondition: cross-validation over
// trials requires uniform length, checked before any fold work begins.
func uniformLen(lens []int) (int, error) {
	if len(lens) == 0 {
		return 0, fmt.Errorf("tuda: no trials")
	}
	ttrial := lens[0]
	for i, tl := range lens {
		if tl != ttrial {
			return 0, fmt.Errorf("tuda: unequal trial lengths: trial 0 has %d time points, trial %d has %d -- cross-validation requires uniform-length trials", ttrial, i, tl)
		}
	}
	if ttrial < 1 {
		return 0, fmt.Errorf("tuda: trial length is %d, must be >= 1", ttrial)
	}
	return ttrial, nil
}

// trialSubset copies the rows of src (flattened time x cols) belonging to
// the given trial indexes into a fresh tensor, preserving trial order as
// given.  ttrial is the uniform trial length.
func trialSubset(src *etensor.Float64, trials []int, ttrial int) *etensor.Float64 {
	nc := src.Dim(1)
	out := etensor.NewFloat64([]int{len(trials) * ttrial, nc}, nil, nil)
	for i, tr := range trials {
		copy(out.Values[i*ttrial*nc:(i+1)*ttrial*nc], src.Values[tr*ttrial*nc:(tr+1)*ttrial*nc])
	}
	return out
}

// trialLabels extracts the per-trial response values from the first time
// point of each trial, as a trials x cols matrix, for computing the
// class-combination stratification key.
func trialLabels(y *etensor.Float64, ntrials, ttrial int) [][]float64 {
	q := y.Dim(1)
	labels := make([][]float64, ntrials)
	for tr := 0; tr < ntrials; tr++ {
		row := make([]float64, q)
		for j := 0; j < q; j++ {
			row[j] = y.Value([]int{tr * ttrial, j})
		}
		labels[tr] = row
	}
	return labels
}
