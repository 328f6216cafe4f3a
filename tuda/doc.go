// Copyright (c) 2024, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package tuda implements cross-validated evaluation of temporally
unconstrained decoding analysis (TUDA) models: multi-state decoders that
assign each time point within a trial to one of K latent decoding states
and predict a stimulus / response signal from brain-activity features
conditioned on that assignment.

Model fitting is delegated to an external Trainer behind an interface --
the evaluation here is the hard part of doing it honestly: the state
assignment used for prediction cannot itself be computed from the
held-out labels, so held-out state time-courses are estimated by one of
three non-circular strategies (training-average, ridge feature
regression, or an external distributional estimator), combined with the
per-state predictive coefficients in a soft mixture-of-experts, and
reduced to trial-level and per-time-point accuracy (classification) or
explained variance (regression).

The main entry point is the CV struct: set Config (with Defaults called
first), a Trainer, and any optional collaborators, then call Run with the
feature matrix, response matrix, and per-trial lengths.  All trials must
have the same length -- cross-validation over trials requires it.
*/
package tuda
