// Copyright (c) 2024, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tuda

import (
	"fmt"
	"math"

	"github.com/emer/etable/v2/etable"
	"github.com/emer/etable/v2/etensor"
	"github.com/emer/etable/v2/minmax"
)

// matchTol is the absolute-difference tolerance for the near-exact match
// test between hardened predictions and denoised targets
const matchTol = 1e-4

// Results is the output of a cross-validated evaluation run.
type Results struct {

	// aggregate accuracy: one classification accuracy value, or
	// per-response-dimension explained variance for regression
	// (explained variance can be negative for poor fits, never > 1)
	Acc []float64

	// per-time-point accuracy: ttrial vector for classification,
	// ttrial x response-dims for regression
	AccT *etensor.Float64

	// trial-level predictions: hardened class labels for classification
	// (sign or one-hot), time-averaged predictions for regression --
	// trials x response-dims
	YPredTrial *etensor.Float64

	// full time-point-level response-scale predictions,
	// ttrial x trials x response-dims
	YPredFull *etensor.Float64

	// per-time-point report table, one row per time offset
	Report *etable.Table

	// response-scale prediction range per response dimension, for the
	// verbose summary
	PredRange []minmax.AvgMax32
}

// predRanges tracks the average / max of predictions per response dim.
func predRanges(pred *etensor.Float64) []minmax.AvgMax32 {
	nq := pred.Dim(2)
	ams := make([]minmax.AvgMax32, nq)
	for j := range ams {
		ams[j].Init()
	}
	for i, v := range pred.Values {
		ams[i%nq].UpdateVal(float32(v), int32(i/nq))
	}
	for j := range ams {
		ams[j].CalcAvg()
	}
	return ams
}

// sign returns the hardened +/-1 label for a binary prediction or target.
func sign(v float64) float64 {
	if v >= 0 {
		return 1
	}
	return -1
}

// denoiseTargets recovers the clean indicator targets per trial from the
// (possibly preprocessing-perturbed) true responses: the sign of the
// trial's time-averaged response for binary (single-column) responses, or
// the one-hot of its largest column for multi-class.  Returns trials x
// response-dims.
func denoiseTargets(y *etensor.Float64, ttrial, ntrials int) *etensor.Float64 {
	nq := y.Dim(1)
	tgt := etensor.NewFloat64([]int{ntrials, nq}, nil, []string{"Trial", "Resp"})
	avg := make([]float64, nq)
	for tr := 0; tr < ntrials; tr++ {
		for j := range avg {
			avg[j] = 0
		}
		for t := 0; t < ttrial; t++ {
			for j := 0; j < nq; j++ {
				avg[j] += y.Value([]int{tr*ttrial + t, j})
			}
		}
		harden(avg)
		for j := 0; j < nq; j++ {
			tgt.Set([]int{tr, j}, avg[j])
		}
	}
	return tgt
}

// harden converts a prediction or response row into a class-label row in
// place: sign for a single column, one-hot of the argmax otherwise.
func harden(row []float64) {
	if len(row) == 1 {
		row[0] = sign(row[0])
		return
	}
	mi := 0
	for j, v := range row {
		if v > row[mi] {
			mi = j
		}
	}
	for j := range row {
		row[j] = 0
	}
	row[mi] = 1
}

// scoreClassif reduces time-point-level predictions to classification
// accuracy.  Trial labels come from the time-averaged prediction (sign
// for binary, argmax one-hot for multi-class); correctness is the
// near-exact match test against the denoised targets; per-time-point
// accuracy is the mean of the per-time-point match across trials.
func scoreClassif(y, pred *etensor.Float64, ttrial, ntrials int) *Results {
	nq := pred.Dim(2)
	tgt := denoiseTargets(y, ttrial, ntrials)
	res := &Results{
		Acc:        make([]float64, 1),
		AccT:       etensor.NewFloat64([]int{ttrial}, nil, []string{"Time"}),
		YPredTrial: etensor.NewFloat64([]int{ntrials, nq}, nil, []string{"Trial", "Resp"}),
		YPredFull:  pred,
		PredRange:  predRanges(pred),
	}
	row := make([]float64, nq)
	ncor := 0
	for tr := 0; tr < ntrials; tr++ {
		for j := range row {
			row[j] = 0
		}
		for t := 0; t < ttrial; t++ {
			for j := 0; j < nq; j++ {
				row[j] += pred.Value([]int{t, tr, j})
			}
		}
		harden(row)
		cor := true
		for j := 0; j < nq; j++ {
			res.YPredTrial.Set([]int{tr, j}, row[j])
			if math.Abs(row[j]-tgt.Value([]int{tr, j})) >= matchTol {
				cor = false
			}
		}
		if cor {
			ncor++
		}
	}
	res.Acc[0] = float64(ncor) / float64(ntrials)
	for t := 0; t < ttrial; t++ {
		nct := 0
		for tr := 0; tr < ntrials; tr++ {
			for j := 0; j < nq; j++ {
				row[j] = pred.Value([]int{t, tr, j})
			}
			harden(row)
			cor := true
			for j := 0; j < nq; j++ {
				if math.Abs(row[j]-tgt.Value([]int{tr, j})) >= matchTol {
					cor = false
				}
			}
			if cor {
				nct++
			}
		}
		res.AccT.SetFloat1D(t, float64(nct)/float64(ntrials))
	}
	res.Report = classifReport(res.AccT)
	return res
}

// scoreRegress reduces time-point-level predictions to explained
// variance, 1 - sum(y - yhat)^2 / sum(y^2), per response dimension:
// one trial-aggregated value per dimension and one per time offset.
func scoreRegress(y, pred *etensor.Float64, ttrial, ntrials int) *Results {
	nq := pred.Dim(2)
	res := &Results{
		Acc:        make([]float64, nq),
		AccT:       etensor.NewFloat64([]int{ttrial, nq}, nil, []string{"Time", "Resp"}),
		YPredTrial: etensor.NewFloat64([]int{ntrials, nq}, nil, []string{"Trial", "Resp"}),
		YPredFull:  pred,
		PredRange:  predRanges(pred),
	}
	rss := make([]float64, nq)
	tss := make([]float64, nq)
	for t := 0; t < ttrial; t++ {
		for j := 0; j < nq; j++ {
			rsst := 0.0
			tsst := 0.0
			for tr := 0; tr < ntrials; tr++ {
				yv := y.Value([]int{tr*ttrial + t, j})
				d := yv - pred.Value([]int{t, tr, j})
				rsst += d * d
				tsst += yv * yv
			}
			res.AccT.Set([]int{t, j}, evar(rsst, tsst))
			rss[j] += rsst
			tss[j] += tsst
		}
	}
	for j := 0; j < nq; j++ {
		res.Acc[j] = evar(rss[j], tss[j])
	}
	for tr := 0; tr < ntrials; tr++ {
		for j := 0; j < nq; j++ {
			avg := 0.0
			for t := 0; t < ttrial; t++ {
				avg += pred.Value([]int{t, tr, j})
			}
			res.YPredTrial.Set([]int{tr, j}, avg/float64(ttrial))
		}
	}
	res.Report = regressReport(res.AccT)
	return res
}

// evar is explained variance with the zero-variance edge guarded:
// a perfect fit of an all-zero response scores 1, any miss scores 0.
func evar(rss, tss float64) float64 {
	if tss == 0 {
		if rss == 0 {
			return 1
		}
		return 0
	}
	return 1 - rss/tss
}

// classifReport builds the per-time-point accuracy table.
func classifReport(accT *etensor.Float64) *etable.Table {
	dt := &etable.Table{}
	dt.SetMetaData("name", "TimeAcc")
	dt.SetMetaData("desc", "classification accuracy per time offset within trial")
	sch := etable.Schema{
		{Name: "Time", Type: etensor.INT64},
		{Name: "Acc", Type: etensor.FLOAT64},
	}
	nt := accT.Dim(0)
	dt.SetFromSchema(sch, nt)
	for t := 0; t < nt; t++ {
		dt.SetCellFloat("Time", t, float64(t))
		dt.SetCellFloat("Acc", t, accT.FloatVal1D(t))
	}
	return dt
}

// regressReport builds the per-time-point explained-variance table,
// one R2 column per response dimension.
func regressReport(accT *etensor.Float64) *etable.Table {
	nt := accT.Dim(0)
	nq := accT.Dim(1)
	dt := &etable.Table{}
	dt.SetMetaData("name", "TimeR2")
	dt.SetMetaData("desc", "explained variance per time offset within trial")
	sch := etable.Schema{{Name: "Time", Type: etensor.INT64}}
	for j := 0; j < nq; j++ {
		sch = append(sch, etable.Column{Name: fmt.Sprintf("R2_%d", j), Type: etensor.FLOAT64})
	}
	dt.SetFromSchema(sch, nt)
	for t := 0; t < nt; t++ {
		dt.SetCellFloat("Time", t, float64(t))
		for j := 0; j < nq; j++ {
			dt.SetCellFloat(fmt.Sprintf("R2_%d", j), t, accT.Value([]int{t, j}))
		}
	}
	return dt
}
