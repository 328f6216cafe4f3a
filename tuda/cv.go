// Copyright (c) 2024, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tuda

import (
	"fmt"
	"log"

	"github.com/c2h5oh/datasize"
	"github.com/emer/etable/v2/agg"
	"github.com/emer/etable/v2/etable"
	"github.com/emer/etable/v2/etensor"
	"github.com/emer/tuda/folds"
)

// CV runs cross-validated evaluation of a temporal decoding model.
// Set Config (after Defaults), a Trainer, and any collaborators the
// configuration requires, then call Run.
type CV struct {

	// evaluation parameters -- resolved once before any fold work
	Config Config

	// the external decoder trainer (required)
	Trainer Trainer

	// the external distributional state estimator -- required only for
	// the Distrib estimation method
	Distrib DistribEstimator

	// optional preprocessing applied once to the full data before fold
	// construction (centering, feature construction, intercept handling)
	Prep Preprocessor
}

// Defaults sets default configuration parameters.
func (cv *CV) Defaults() {
	cv.Config.Defaults()
}

// Run performs the full cross-validated evaluation on features x
// (flattened time x features), responses y (flattened time x
// response-dims), and per-trial lengths.  Folds are processed one at a
// time; all aggregation tensors are preallocated and written by disjoint
// test-trial index ranges, so fold evaluation could be distributed with
// no ordering requirement -- the scoring pass runs only after every fold
// completes.  Any fold failure aborts the whole run: partial folds would
// bias the accuracy estimate.
func (cv *CV) Run(x, y *etensor.Float64, lens []int) (*Results, error) {
	cfg := &cv.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cv.Trainer == nil {
		return nil, fmt.Errorf("tuda.CV: no Trainer set")
	}
	ttrial, err := uniformLen(lens)
	if err != nil {
		return nil, err
	}
	if cv.Prep != nil {
		var qstar int
		x, y, lens, qstar, err = cv.Prep.Preprocess(x, y, lens, cfg)
		if err != nil {
			return nil, err
		}
		if qstar != y.Dim(1) {
			return nil, fmt.Errorf("tuda.CV: preprocessor reported %d response dims but returned %d", qstar, y.Dim(1))
		}
		if ttrial, err = uniformLen(lens); err != nil {
			return nil, err
		}
	}
	ntrials := len(lens)
	nq := y.Dim(1)
	nk := cfg.NStates

	part, err := cv.partition(y, ntrials, ttrial)
	if err != nil {
		return nil, err
	}
	est, err := newEstimator(cfg, cv.Distrib)
	if err != nil {
		return nil, err
	}
	constY := constantResponses(y, ntrials, ttrial)

	gammaAll := etensor.NewFloat64([]int{ttrial, ntrials, nk}, nil, []string{"Time", "Trial", "State"})
	predAll := etensor.NewFloat64([]int{ttrial, ntrials, nq}, nil, []string{"Time", "Trial", "Resp"})
	if cfg.Verbose {
		sz := 8 * (len(gammaAll.Values) + len(predAll.Values))
		log.Printf("tuda.CV: %d trials x %d time points, %d states, %d folds, allocated %s for state and prediction buffers\n",
			ntrials, ttrial, nk, len(part), (datasize.ByteSize)(sz).HumanReadable())
	}

	for fi, f := range part {
		if err := cv.runFold(fi, f, x, y, ttrial, est, constY, gammaAll, predAll); err != nil {
			return nil, err
		}
	}

	var res *Results
	if cfg.Classification {
		res = scoreClassif(y, predAll, ttrial, ntrials)
	} else {
		res = scoreRegress(y, predAll, ttrial, ntrials)
	}
	if cfg.Verbose {
		cv.logSummary(res)
	}
	return res, nil
}

// partition returns the fold partition: the caller-supplied one verbatim
// (after invariant validation), or a stratified partition over the
// class-combination key for categorical responses, or a uniform random
// partition for continuous ones.
func (cv *CV) partition(y *etensor.Float64, ntrials, ttrial int) ([]folds.Fold, error) {
	cfg := &cv.Config
	if cfg.Partition != nil {
		if err := folds.Check(cfg.Partition, ntrials); err != nil {
			return nil, err
		}
		return cfg.Partition, nil
	}
	ncv := cfg.NCV
	var part []folds.Fold
	if cfg.Classification {
		keys := folds.CombinationKey(trialLabels(y, ntrials, ttrial))
		if ncv == 0 {
			ncv = folds.DefaultNCV(keys)
		}
		if ncv > ntrials {
			ncv = ntrials
		}
		part, _ = folds.Stratified(keys, ncv)
	} else {
		if ncv == 0 {
			ncv = 10
		}
		if ncv > ntrials {
			ncv = ntrials
		}
		part = folds.Random(ntrials, ncv)
	}
	if err := folds.Check(part, ntrials); err != nil {
		return nil, err
	}
	return part, nil
}

// runFold evaluates one fold: train, estimate held-out state
// time-courses, predict, and write both into the preallocated buffers at
// this fold's test-trial indexes.  All per-fold artifacts (fitted model,
// coefficients, held-out Gamma) are local and dropped on return.
func (cv *CV) runFold(fi int, f folds.Fold, x, y *etensor.Float64, ttrial int, est GammaEstimator, constY bool, gammaAll, predAll *etensor.Float64) error {
	cfg := &cv.Config
	nk := cfg.NStates
	nq := y.Dim(1)
	xTrain := trialSubset(x, f.Train, ttrial)
	yTrain := trialSubset(y, f.Train, ttrial)
	xTest := trialSubset(x, f.Test, ttrial)
	lensTrain := make([]int, len(f.Train))
	lensTest := make([]int, len(f.Test))
	for i := range lensTrain {
		lensTrain[i] = ttrial
	}
	for i := range lensTest {
		lensTest[i] = ttrial
	}

	model, gammaTrain, err := cv.Trainer.Fit(xTrain, yTrain, lensTrain, cfg)
	if err != nil {
		return err
	}
	if gammaTrain.NumDims() != 2 || gammaTrain.Dim(0) != len(f.Train)*ttrial || gammaTrain.Dim(1) != nk {
		return fmt.Errorf("tuda.CV: fold %d trainer returned Gamma shape %v, need [%d %d]", fi, gammaTrain.Shp, len(f.Train)*ttrial, nk)
	}
	var coefs *etensor.Float64
	if cfg.PredMode != Discrim {
		ce, ok := model.(CoefExtractor)
		if !ok {
			return fmt.Errorf("tuda.CV: fold %d fitted model %T does not implement CoefExtractor", fi, model)
		}
		coefs = ce.Coefs()
		if coefs.NumDims() != 3 || coefs.Dim(0) != x.Dim(1) || coefs.Dim(1) != nq || coefs.Dim(2) != nk {
			return fmt.Errorf("tuda.CV: fold %d coefficients shape %v, need [%d %d %d]", fi, coefs.Shp, x.Dim(1), nq, nk)
		}
		model = nil // only the coefficients are retained
	}

	fd := &FoldData{
		XTrain: xTrain, XTest: xTest, GammaTrain: gammaTrain,
		LensTrain: lensTrain, LensTest: lensTest,
		TTrial: ttrial, NStates: nk,
	}
	gammaTest, err := est.EstimateGamma(fd)
	if err != nil {
		return err
	}
	pred, err := foldPredict(cfg, model, coefs, gammaTest, xTest, ttrial, constY)
	if err != nil {
		return err
	}
	if pred.NumDims() != 3 || pred.Dim(0) != ttrial || pred.Dim(1) != len(f.Test) || pred.Dim(2) != nq {
		return fmt.Errorf("tuda.CV: fold %d predictions shape %v, need [%d %d %d]", fi, pred.Shp, ttrial, len(f.Test), nq)
	}

	// disjoint write regions: only this fold's test trials
	for tt, tr := range f.Test {
		for t := 0; t < ttrial; t++ {
			for k := 0; k < nk; k++ {
				gammaAll.Set([]int{t, tr, k}, gammaTest.Value([]int{t, tt, k}))
			}
			for j := 0; j < nq; j++ {
				predAll.Set([]int{t, tr, j}, pred.Value([]int{t, tt, j}))
			}
		}
	}
	if cfg.Verbose {
		log.Printf("tuda.CV: fold %d done: %d train, %d test trials\n", fi, len(f.Train), len(f.Test))
	}
	return nil
}

// logSummary logs the aggregate accuracy, the mean of the per-time-point
// report, and the prediction ranges.
func (cv *CV) logSummary(res *Results) {
	ix := etable.NewIdxView(res.Report)
	if cv.Config.Classification {
		log.Printf("tuda.CV: accuracy: %.4g, mean per-time-point accuracy: %.4g\n", res.Acc[0], agg.Mean(ix, "Acc")[0])
	} else {
		for j, a := range res.Acc {
			log.Printf("tuda.CV: resp dim %d: explained variance: %.4g, mean per-time-point: %.4g\n", j, a, agg.Mean(ix, fmt.Sprintf("R2_%d", j))[0])
		}
	}
	for j, am := range res.PredRange {
		log.Printf("tuda.CV: resp dim %d: prediction avg: %g, max: %g\n", j, am.Avg, am.Max)
	}
}

// constantResponses reports whether every trial's response is constant
// across its time points (per-trial labels rather than a per-time-point
// response track) -- passed through to the discriminant predictor.
func constantResponses(y *etensor.Float64, ntrials, ttrial int) bool {
	nq := y.Dim(1)
	for tr := 0; tr < ntrials; tr++ {
		for t := 1; t < ttrial; t++ {
			for j := 0; j < nq; j++ {
				if y.Value([]int{tr*ttrial + t, j}) != y.Value([]int{tr * ttrial, j}) {
					return false
				}
			}
		}
	}
	return true
}
