// Copyright (c) 2024, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tuda

import (
	"fmt"
	"math"

	"github.com/emer/etable/v2/etensor"
)

// predictLinear forms per-time-point predictions for the test trials of
// one fold from per-state coefficients (features x response-dims x
// states) and the estimated held-out Gamma (ttrial x test-trials x
// states): predictions accumulate as (x . W_k) weighted by the state
// probability, summed over states -- a soft mixture-of-experts.
// Under PlainRegression only state 0's coefficients are used, with no
// state weighting.  Returns ttrial x test-trials x response-dims.
func predictLinear(coefs, gammaTest, xTest *etensor.Float64, ttrial int, plain bool) *etensor.Float64 {
	nf := coefs.Dim(0)
	nq := coefs.Dim(1)
	nk := coefs.Dim(2)
	ntest := gammaTest.Dim(1)
	pred := etensor.NewFloat64([]int{ttrial, ntest, nq}, nil, []string{"Time", "Trial", "Resp"})
	for tt := 0; tt < ntest; tt++ {
		for t := 0; t < ttrial; t++ {
			ti := tt*ttrial + t
			for j := 0; j < nq; j++ {
				v := 0.0
				if plain {
					for f := 0; f < nf; f++ {
						v += xTest.Value([]int{ti, f}) * coefs.Value([]int{f, j, 0})
					}
				} else {
					for k := 0; k < nk; k++ {
						xw := 0.0
						for f := 0; f < nf; f++ {
							xw += xTest.Value([]int{ti, f}) * coefs.Value([]int{f, j, k})
						}
						v += xw * gammaTest.Value([]int{t, tt, k})
					}
				}
				pred.Set([]int{t, tt, j}, v)
			}
		}
	}
	return pred
}

// applyLink converts linear predictor outputs into response-scale
// predictions in place: sigmoid for single-column (binary) responses,
// multinomial-logistic (softmax) across columns for multi-class.
// The Identity link is a no-op.
func applyLink(pred *etensor.Float64, link RespLink) {
	if link != Logistic {
		return
	}
	nt := pred.Dim(0)
	ntr := pred.Dim(1)
	nq := pred.Dim(2)
	if nq == 1 {
		for i, v := range pred.Values {
			pred.Values[i] = 1.0 / (1.0 + math.Exp(-v))
		}
		return
	}
	for t := 0; t < nt; t++ {
		for tr := 0; tr < ntr; tr++ {
			mx := pred.Value([]int{t, tr, 0})
			for j := 1; j < nq; j++ {
				if v := pred.Value([]int{t, tr, j}); v > mx {
					mx = v
				}
			}
			sum := 0.0
			for j := 0; j < nq; j++ {
				e := math.Exp(pred.Value([]int{t, tr, j}) - mx)
				pred.Set([]int{t, tr, j}, e)
				sum += e
			}
			for j := 0; j < nq; j++ {
				pred.Set([]int{t, tr, j}, pred.Value([]int{t, tr, j})/sum)
			}
		}
	}
}

// foldPredict produces the response-scale predictions for one fold's test
// trials, dispatching on the configured prediction mode.  model is the
// fold's fitted model under Discrim, coefs the extracted per-state
// coefficients otherwise; constantY reports whether the true responses
// are constant within trials (per-trial labels).
func foldPredict(cfg *Config, model FitModel, coefs, gammaTest, xTest *etensor.Float64, ttrial int, constantY bool) (*etensor.Float64, error) {
	if cfg.PredMode == Discrim {
		dm, ok := model.(DiscrimModel)
		if !ok {
			return nil, fmt.Errorf("tuda: PredMode Discrim but fitted model %T does not implement DiscrimModel", model)
		}
		return dm.Predict(gammaTest, xTest, cfg.Classification, constantY)
	}
	pred := predictLinear(coefs, gammaTest, xTest, ttrial, cfg.PredMode == PlainRegression)
	applyLink(pred, cfg.Link)
	return pred, nil
}
