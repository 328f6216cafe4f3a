// Copyright (c) 2024, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package tuda is the overall repository for cross-validated evaluation of
temporally unconstrained decoding analysis (TUDA) models, implemented in
the Go language (golang).

A TUDA model assigns each time point within a trial to one of K latent
decoding states, and predicts a stimulus / response signal from
brain-activity features conditioned on that state assignment.  The hard
problem addressed here is not model fitting, which is delegated to an
external trainer behind an interface, but unbiased out-of-sample
estimation: the state assignment used for prediction cannot be computed
from the held-out labels, so held-out state time-courses must be
estimated through one of several non-circular strategies.

This top-level of the repository has no functional code -- everything is
organized into the following sub-repositories:

* folds: k-fold train / test trial partitioning, with optional
stratification by the combination of categorical response values, so that
each fold's test set preserves the overall class distribution.

* tuda: the core evaluation: configuration, the external-collaborator
interfaces (trainer, discriminant predictor, distributional state
estimator, preprocessor), the three held-out state time-course estimation
strategies, per-state prediction aggregation, and the classification /
regression accuracy reduction at both trial and time-point granularity.

* examples: these compile into runnable programs -- examples/decodecv
generates a synthetic decoding dataset, fits a simple windowed per-state
regression trainer, and runs the full cross-validated evaluation.
*/
package tuda
