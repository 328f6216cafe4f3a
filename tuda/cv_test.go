// Copyright (c) 2024, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tuda

import (
	"fmt"
	"math"
	"testing"

	"github.com/emer/etable/v2/etensor"
	"github.com/emer/tuda/folds"
)

// fixedModel carries preset per-state coefficients.
type fixedModel struct {
	coefs *etensor.Float64
}

func (fm *fixedModel) Coefs() *etensor.Float64 { return fm.coefs }

// fixedTrainer is a deterministic stand-in for the external trainer:
// it returns preset coefficients and a Gamma that is one-hot over equal
// time windows within each trial.
type fixedTrainer struct {
	coefs *etensor.Float64
	fits  int
}

func (ft *fixedTrainer) Fit(x, y *etensor.Float64, lens []int, cfg *Config) (FitModel, *etensor.Float64, error) {
	ft.fits++
	nt := 0
	for _, l := range lens {
		nt += l
	}
	gamma := etensor.NewFloat64([]int{nt, cfg.NStates}, nil, nil)
	off := 0
	for _, l := range lens {
		for t := 0; t < l; t++ {
			gamma.Set([]int{off + t, t * cfg.NStates / l}, 1)
		}
		off += l
	}
	return &fixedModel{coefs: ft.coefs}, gamma, nil
}

// binaryData builds the 20-trial balanced binary scenario: 50 time
// points per trial, features [label, 1], responses the +/-1 label.
func binaryData() (x, y *etensor.Float64, lens []int) {
	n, ttrial := 20, 50
	x = etensor.NewFloat64([]int{n * ttrial, 2}, nil, nil)
	y = etensor.NewFloat64([]int{n * ttrial, 1}, nil, nil)
	lens = make([]int, n)
	for tr := 0; tr < n; tr++ {
		lens[tr] = ttrial
		lab := 1.0
		if tr%2 == 1 {
			lab = -1
		}
		for t := 0; t < ttrial; t++ {
			x.Set([]int{tr*ttrial + t, 0}, lab)
			x.Set([]int{tr*ttrial + t, 1}, 1)
			y.Set([]int{tr*ttrial + t, 0}, lab)
		}
	}
	return
}

// labelCoefs maps feature 0 straight through in every state.
func labelCoefs(nf, nq, nk int) *etensor.Float64 {
	coefs := etensor.NewFloat64([]int{nf, nq, nk}, nil, nil)
	for k := 0; k < nk; k++ {
		for j := 0; j < nq; j++ {
			coefs.Set([]int{j, j, k}, 1)
		}
	}
	return coefs
}

func TestCVBinaryEndToEnd(t *testing.T) {
	x, y, lens := binaryData()
	cv := &CV{Trainer: &fixedTrainer{coefs: labelCoefs(2, 1, 3)}}
	cv.Defaults()
	cv.Config.NStates = 3
	cv.Config.NCV = 5
	cv.Config.Classification = true
	res, err := cv.Run(x, y, lens)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Acc) != 1 || res.Acc[0] < 0 || res.Acc[0] > 1 {
		t.Errorf("acc out of [0,1]: %v\n", res.Acc)
	}
	// features carry the label exactly, so decoding is perfect
	if res.Acc[0] != 1 {
		t.Errorf("acc: %v, cor: 1\n", res.Acc[0])
	}
	if res.AccT.Len() != 50 {
		t.Errorf("accT len: %v, cor: 50\n", res.AccT.Len())
	}
	for tp := 0; tp < 50; tp++ {
		if v := res.AccT.FloatVal1D(tp); v < 0 || v > 1 {
			t.Errorf("accT out of [0,1]: t: %v, v: %v\n", tp, v)
		}
	}
	if res.YPredTrial.Dim(0) != 20 || res.YPredTrial.Dim(1) != 1 {
		t.Errorf("YPredTrial shape: %v, cor: [20 1]\n", res.YPredTrial.Shp)
	}
	for tr := 0; tr < 20; tr++ {
		v := res.YPredTrial.Value([]int{tr, 0})
		if v != 1 && v != -1 {
			t.Errorf("trial label not in {-1, 1}: trial: %v, v: %v\n", tr, v)
		}
	}
}

// continuousData builds the 10-trial continuous scenario: 30 time points,
// 3 features (last constant), 2 response dims exactly linear in X.
func continuousData() (x, y *etensor.Float64, lens []int) {
	n, ttrial := 10, 30
	x = etensor.NewFloat64([]int{n * ttrial, 3}, nil, nil)
	y = etensor.NewFloat64([]int{n * ttrial, 2}, nil, nil)
	lens = make([]int, n)
	w := [][]float64{{1.5, -0.5, 0.2}, {-1, 2, 0.7}} // per response dim
	for tr := 0; tr < n; tr++ {
		lens[tr] = ttrial
		for t := 0; t < ttrial; t++ {
			ti := tr*ttrial + t
			x.Set([]int{ti, 0}, math.Sin(float64(ti)*0.1))
			x.Set([]int{ti, 1}, math.Cos(float64(ti)*0.07))
			x.Set([]int{ti, 2}, 1)
			for j := 0; j < 2; j++ {
				v := 0.0
				for f := 0; f < 3; f++ {
					v += w[j][f] * x.Value([]int{ti, f})
				}
				y.Set([]int{ti, j}, v)
			}
		}
	}
	return
}

func TestCVContinuousEndToEnd(t *testing.T) {
	x, y, lens := continuousData()
	// identical coefficients in both states: the mixture weights sum to 1
	// after projection, so predictions are exactly linear
	coefs := etensor.NewFloat64([]int{3, 2, 2}, nil, nil)
	w := [][]float64{{1.5, -0.5, 0.2}, {-1, 2, 0.7}}
	for k := 0; k < 2; k++ {
		for j := 0; j < 2; j++ {
			for f := 0; f < 3; f++ {
				coefs.Set([]int{f, j, k}, w[j][f])
			}
		}
	}
	cv := &CV{Trainer: &fixedTrainer{coefs: coefs}}
	cv.Defaults()
	cv.Config.NStates = 2
	cv.Config.NCV = 5
	cv.Config.Estim = RidgeGamma
	res, err := cv.Run(x, y, lens)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Acc) != 2 {
		t.Fatalf("acc len: %v, cor: 2\n", len(res.Acc))
	}
	for j, a := range res.Acc {
		if a > 1+difTol {
			t.Errorf("explained variance above 1: dim: %v, v: %v\n", j, a)
		}
		if math.Abs(a-1) > 1e-6 {
			t.Errorf("exact linear responses should be fully explained: dim: %v, v: %v\n", j, a)
		}
	}
	if res.AccT.Dim(0) != 30 || res.AccT.Dim(1) != 2 {
		t.Errorf("accT shape: %v, cor: [30 2]\n", res.AccT.Shp)
	}
}

func TestCVIdempotent(t *testing.T) {
	x, y, lens := binaryData()
	part := make([]folds.Fold, 5)
	for tr := 0; tr < 20; tr++ {
		fi := tr % 5
		part[fi].Test = append(part[fi].Test, tr)
	}
	for fi := range part {
		for tr := 0; tr < 20; tr++ {
			if tr%5 != fi {
				part[fi].Train = append(part[fi].Train, tr)
			}
		}
	}
	run := func() *Results {
		cv := &CV{Trainer: &fixedTrainer{coefs: labelCoefs(2, 1, 3)}}
		cv.Defaults()
		cv.Config.NStates = 3
		cv.Config.Classification = true
		cv.Config.Partition = part
		res, err := cv.Run(x, y, lens)
		if err != nil {
			t.Fatal(err)
		}
		return res
	}
	r1 := run()
	r2 := run()
	if r1.Acc[0] != r2.Acc[0] {
		t.Errorf("acc differs across runs: %v vs %v\n", r1.Acc[0], r2.Acc[0])
	}
	for i, v := range r1.YPredFull.Values {
		if v != r2.YPredFull.Values[i] {
			t.Fatalf("prediction differs across runs at %v: %v vs %v\n", i, v, r2.YPredFull.Values[i])
		}
	}
	for i, v := range r1.AccT.Values {
		if v != r2.AccT.Values[i] {
			t.Errorf("accT differs across runs at %v\n", i)
		}
	}
}

func TestCVUnequalTrialLengths(t *testing.T) {
	x, y, lens := binaryData()
	lens[3] = 49
	ft := &fixedTrainer{coefs: labelCoefs(2, 1, 3)}
	cv := &CV{Trainer: ft}
	cv.Defaults()
	cv.Config.NStates = 3
	cv.Config.Classification = true
	if _, err := cv.Run(x, y, lens); err == nil {
		t.Errorf("unequal trial lengths not rejected\n")
	}
	if ft.fits != 0 {
		t.Errorf("trainer invoked %v times before precondition failure\n", ft.fits)
	}
}

func TestCVConfigErrors(t *testing.T) {
	x, y, lens := binaryData()
	cv := &CV{Trainer: &fixedTrainer{coefs: labelCoefs(2, 1, 3)}}
	cv.Defaults()
	cv.Config.Classification = true
	if _, err := cv.Run(x, y, lens); err == nil {
		t.Errorf("NStates 0 not rejected\n")
	}
	cv.Config.NStates = 3
	cv.Config.Estim = EstimMethod(7)
	if _, err := cv.Run(x, y, lens); err == nil {
		t.Errorf("estimation method 7 not rejected\n")
	}
	cv.Config.Estim = NoEstim
	if _, err := cv.Run(x, y, lens); err == nil {
		t.Errorf("estimation method 0 not rejected\n")
	}
	cv.Config.Estim = RidgeGamma
	cv.Config.Lambda = 0
	if _, err := cv.Run(x, y, lens); err == nil {
		t.Errorf("Lambda 0 with RidgeGamma not rejected\n")
	}
	cv.Config.Lambda = 1e-4
	cv.Trainer = nil
	if _, err := cv.Run(x, y, lens); err == nil {
		t.Errorf("missing trainer not rejected\n")
	}
}

// errTrainer always fails.
type errTrainer struct{}

func (et *errTrainer) Fit(x, y *etensor.Float64, lens []int, cfg *Config) (FitModel, *etensor.Float64, error) {
	return nil, nil, fmt.Errorf("trainer blew up")
}

func TestCVTrainerErrorAborts(t *testing.T) {
	x, y, lens := binaryData()
	cv := &CV{Trainer: &errTrainer{}}
	cv.Defaults()
	cv.Config.NStates = 3
	cv.Config.Classification = true
	if _, err := cv.Run(x, y, lens); err == nil {
		t.Errorf("trainer failure not propagated\n")
	}
}

// discrimTrainer returns a model implementing DiscrimModel that predicts
// the sign of the first feature.
type discrimTrainer struct{}

type discrimModel struct{}

func (dm *discrimModel) Predict(gamma, x *etensor.Float64, classif, constantY bool) (*etensor.Float64, error) {
	ttrial := gamma.Dim(0)
	ntest := gamma.Dim(1)
	pred := etensor.NewFloat64([]int{ttrial, ntest, 1}, nil, nil)
	for tt := 0; tt < ntest; tt++ {
		for tp := 0; tp < ttrial; tp++ {
			v := -1.0
			if x.Value([]int{tt*ttrial + tp, 0}) >= 0 {
				v = 1
			}
			pred.Set([]int{tp, tt, 0}, v)
		}
	}
	return pred, nil
}

func (dt *discrimTrainer) Fit(x, y *etensor.Float64, lens []int, cfg *Config) (FitModel, *etensor.Float64, error) {
	nt := 0
	for _, l := range lens {
		nt += l
	}
	gamma := etensor.NewFloat64([]int{nt, cfg.NStates}, nil, nil)
	for i := 0; i < nt; i++ {
		gamma.Set([]int{i, 0}, 1)
	}
	return &discrimModel{}, gamma, nil
}

func TestCVDiscrim(t *testing.T) {
	x, y, lens := binaryData()
	cv := &CV{Trainer: &discrimTrainer{}}
	cv.Defaults()
	cv.Config.NStates = 2
	cv.Config.NCV = 5
	cv.Config.Classification = true
	cv.Config.PredMode = Discrim
	res, err := cv.Run(x, y, lens)
	if err != nil {
		t.Fatal(err)
	}
	if res.Acc[0] != 1 {
		t.Errorf("discrim acc: %v, cor: 1\n", res.Acc[0])
	}
}

func TestCVDiscrimMissingCapability(t *testing.T) {
	x, y, lens := binaryData()
	cv := &CV{Trainer: &fixedTrainer{coefs: labelCoefs(2, 1, 3)}}
	cv.Defaults()
	cv.Config.NStates = 3
	cv.Config.Classification = true
	cv.Config.PredMode = Discrim
	if _, err := cv.Run(x, y, lens); err == nil {
		t.Errorf("model without DiscrimModel capability not rejected under Discrim mode\n")
	}
}

// interceptPrep appends an intercept column to the responses,
// reporting the resulting dimensionality.
type interceptPrep struct {
	lie bool // misreport the dimensionality
}

func (ip *interceptPrep) Preprocess(x, y *etensor.Float64, lens []int, cfg *Config) (*etensor.Float64, *etensor.Float64, []int, int, error) {
	nt := y.Dim(0)
	nq := y.Dim(1)
	yp := etensor.NewFloat64([]int{nt, nq + 1}, nil, nil)
	for i := 0; i < nt; i++ {
		for j := 0; j < nq; j++ {
			yp.Set([]int{i, j}, y.Value([]int{i, j}))
		}
		yp.Set([]int{i, nq}, 1)
	}
	qstar := nq + 1
	if ip.lie {
		qstar = nq
	}
	return x, yp, lens, qstar, nil
}

func TestCVPreprocessor(t *testing.T) {
	x, y, lens := binaryData()
	// trainer must now produce coefficients for q_star = 2 response dims
	cv := &CV{Trainer: &fixedTrainer{coefs: labelCoefs(2, 2, 3)}, Prep: &interceptPrep{}}
	cv.Defaults()
	cv.Config.NStates = 3
	cv.Config.NCV = 5
	cv.Config.Classification = true
	res, err := cv.Run(x, y, lens)
	if err != nil {
		t.Fatal(err)
	}
	if res.YPredTrial.Dim(1) != 2 {
		t.Errorf("trial predictions dims: %v, cor: 2 after intercept\n", res.YPredTrial.Dim(1))
	}
	cv.Prep = &interceptPrep{lie: true}
	if _, err := cv.Run(x, y, lens); err == nil {
		t.Errorf("misreported response dimensionality not rejected\n")
	}
}

func TestConstantResponses(t *testing.T) {
	_, y, _ := binaryData()
	if !constantResponses(y, 20, 50) {
		t.Errorf("per-trial labels not detected as constant\n")
	}
	y.SetFloat1D(3, 0.5)
	if constantResponses(y, 20, 50) {
		t.Errorf("perturbed response still detected as constant\n")
	}
}
