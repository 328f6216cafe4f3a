// Copyright (c) 2024, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tuda

import (
	"fmt"

	"github.com/emer/tuda/folds"
	"github.com/goki/ki/kit"
)

// Config has all the parameters controlling cross-validated evaluation.
// Call Defaults first, set fields, then Validate -- the configuration is
// resolved once before any fold work begins and never mutated during a
// run.
type Config struct {

	// number of latent decoding states K (must be >= 1)
	NStates int

	// number of cross-validation folds -- 0 uses the default: the minimum
	// class count clamped to [1, 10] for categorical responses, 10 otherwise
	NCV int

	// caller-supplied partition, used verbatim instead of building one --
	// validated against the k-fold invariants before any fold work
	Partition []folds.Fold

	// how held-out state time-courses are estimated for test trials
	Estim EstimMethod

	// ridge penalty for the RidgeGamma estimation method -- must be > 0
	// so the per-time-point normal-equations solve stays well-defined even
	// when a feature column is constant
	Lambda float64

	// how predictions are formed from the fitted model
	PredMode PredictMode

	// response link function applied to linear predictor outputs
	Link RespLink

	// response is categorical -- folds are stratified by the combination
	// of response values and accuracy is classification accuracy; otherwise
	// responses are continuous and accuracy is explained variance
	Classification bool

	// log per-fold progress and summary statistics
	Verbose bool
}

// Defaults sets default parameter values: one decoding state must still
// be configured (NStates); estimation defaults to the training-average
// method with ridge penalty 1e-4 on stand-by, linear per-state prediction
// and the identity link.
func (cf *Config) Defaults() {
	cf.NCV = 0
	cf.Estim = TrainAvg
	cf.Lambda = 1e-4
	cf.PredMode = LinearPerState
	cf.Link = Identity
}

// Validate fails fast on configuration errors, before any fold work.
func (cf *Config) Validate() error {
	if cf.NStates < 1 {
		return fmt.Errorf("tuda.Config: NStates is %d, must be >= 1", cf.NStates)
	}
	if cf.Estim <= NoEstim || cf.Estim >= EstimMethodN {
		return fmt.Errorf("tuda.Config: Estim method %d not in recognized set {%d, %d, %d}", cf.Estim, TrainAvg, RidgeGamma, Distrib)
	}
	if cf.Estim == RidgeGamma && cf.Lambda <= 0 {
		return fmt.Errorf("tuda.Config: Lambda is %g, must be > 0 for RidgeGamma -- the penalty guarantees invertibility of the per-time-point solve", cf.Lambda)
	}
	if cf.PredMode < LinearPerState || cf.PredMode >= PredictModeN {
		return fmt.Errorf("tuda.Config: unrecognized PredMode %d", cf.PredMode)
	}
	if cf.Link < Identity || cf.Link >= RespLinkN {
		return fmt.Errorf("tuda.Config: unrecognized Link %d", cf.Link)
	}
	if cf.NCV < 0 {
		return fmt.Errorf("tuda.Config: NCV is %d, must be >= 0", cf.NCV)
	}
	return nil
}

//////////////////////////////////////////////////////////////////////
// Enums

// EstimMethod selects how held-out state time-courses are estimated for
// the test trials of a fold.  All methods produce a time x test-trials x
// states tensor consumed identically downstream.
type EstimMethod int

//go:generate stringer -type=EstimMethod

var KiT_EstimMethod = kit.Enums.AddEnum(EstimMethodN, false, nil)

func (ev EstimMethod) MarshalJSON() ([]byte, error)  { return kit.EnumMarshalJSON(ev) }
func (ev *EstimMethod) UnmarshalJSON(b []byte) error { return kit.EnumUnmarshalJSON(ev, b) }

const (
	// NoEstim is the invalid zero value -- selection outside the
	// recognized set is a configuration error, not a silent default
	NoEstim EstimMethod = iota

	// TrainAvg assigns every test trial the average of the training
	// trials' state time-courses at each time point -- uses only the
	// fold-level population average of decoder usage, never held-out labels
	TrainAvg

	// RidgeGamma fits a ridge-regularized regression from training
	// features to the training state time-course at each time point
	// independently, applies it to test features, and projects each
	// predicted row back onto the probability simplex
	RidgeGamma

	// Distrib delegates to an external unsupervised distributional
	// state-prediction routine
	Distrib

	EstimMethodN
)

// PredictMode selects how per-time-point predictions are formed from the
// fitted model and the estimated held-out state time-courses.
type PredictMode int

//go:generate stringer -type=PredictMode

var KiT_PredictMode = kit.Enums.AddEnum(PredictModeN, false, nil)

func (ev PredictMode) MarshalJSON() ([]byte, error)  { return kit.EnumMarshalJSON(ev) }
func (ev *PredictMode) UnmarshalJSON(b []byte) error { return kit.EnumUnmarshalJSON(ev, b) }

const (
	// LinearPerState extracts per-state linear coefficients from the
	// fitted model and accumulates (X W_k) weighted by the estimated
	// state probabilities -- a soft mixture-of-experts combination
	LinearPerState PredictMode = iota

	// Discrim retains the whole fitted model and invokes its
	// discriminant-analysis predict operation directly
	Discrim

	// PlainRegression uses only the first state's coefficients with no
	// state weighting -- standard decoding without temporal states
	PlainRegression

	PredictModeN
)

// RespLink is the response link function converting linear predictor
// outputs into response-scale predictions.
type RespLink int

//go:generate stringer -type=RespLink

var KiT_RespLink = kit.Enums.AddEnum(RespLinkN, false, nil)

func (ev RespLink) MarshalJSON() ([]byte, error)  { return kit.EnumMarshalJSON(ev) }
func (ev *RespLink) UnmarshalJSON(b []byte) error { return kit.EnumUnmarshalJSON(ev, b) }

const (
	// Identity leaves linear predictor outputs unchanged
	Identity RespLink = iota

	// Logistic applies a sigmoid transform for single-column responses,
	// or a multinomial-logistic (softmax) transform across columns for
	// multi-class responses
	Logistic

	RespLinkN
)
