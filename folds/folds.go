// Copyright (c) 2024, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package folds provides k-fold train / test partitioning of trial indexes
for cross-validated decoding evaluation, with optional stratification by
a categorical class key so that each fold's test set preserves the
overall class distribution as closely as possible.

The partition invariants are: every trial index appears in exactly one
fold's test set across the full set of folds, and for each fold the train
and test sets are disjoint with their union covering all trials.
*/
package folds

import (
	"fmt"
	"log"
	"sort"

	"github.com/emer/emergent/v2/erand"
)

// Fold is one train / test split of trial indexes in a k-fold
// cross-validation partition.  The two sets are disjoint.
type Fold struct {

	// trial indexes used for training in this fold
	Train []int

	// trial indexes held out for testing in this fold
	Test []int
}

// CombinationKey computes one integer key per trial encoding the
// combination of values across all response columns, for stratifying
// folds.  labels is trials x columns, holding the per-trial value of each
// categorical response column.  Each column's unique values are recoded
// to their rank in sorted order, and the ranks are packed as digits of a
// mixed-radix integer with base = number of columns + 1, so every
// distinct combination of values maps to a unique key.
func CombinationKey(labels [][]float64) []int {
	n := len(labels)
	if n == 0 {
		return nil
	}
	q := len(labels[0])
	base := q + 1
	keys := make([]int, n)
	mult := 1
	for j := 0; j < q; j++ {
		uniq := map[float64]int{}
		for i := 0; i < n; i++ {
			uniq[labels[i][j]] = 0
		}
		vals := make([]float64, 0, len(uniq))
		for v := range uniq {
			vals = append(vals, v)
		}
		sort.Float64s(vals)
		for r, v := range vals {
			uniq[v] = r
		}
		for i := 0; i < n; i++ {
			keys[i] += uniq[labels[i][j]] * mult
		}
		mult *= base
	}
	return keys
}

// ClassCounts returns the number of trials per distinct key value,
// in ascending key order.
func ClassCounts(keys []int) []int {
	cnt := map[int]int{}
	for _, k := range keys {
		cnt[k]++
	}
	ks := make([]int, 0, len(cnt))
	for k := range cnt {
		ks = append(ks, k)
	}
	sort.Ints(ks)
	ns := make([]int, len(ks))
	for i, k := range ks {
		ns[i] = cnt[k]
	}
	return ns
}

// DefaultNCV returns the default number of folds given the per-trial
// class keys: the minimum class count, clamped to [1, 10].
// With no keys (continuous responses) it is 10.
func DefaultNCV(keys []int) int {
	ncv := 10
	for _, n := range ClassCounts(keys) {
		if n < ncv {
			ncv = n
		}
	}
	if ncv < 1 {
		ncv = 1
	}
	return ncv
}

// Stratified partitions n = len(keys) trials into ncv folds, keeping the
// distribution of class keys in each fold's test set as close as possible
// to the overall distribution: trials are shuffled within each class and
// dealt round-robin across folds.  The returned flag is false when class
// totals are unequal, in which case exact fold balance cannot be
// guaranteed -- an advisory is logged but the partition proceeds.
func Stratified(keys []int, ncv int) ([]Fold, bool) {
	n := len(keys)
	if n == 0 {
		return nil, true
	}
	byClass := map[int][]int{}
	for i, k := range keys {
		byClass[k] = append(byClass[k], i)
	}
	ks := make([]int, 0, len(byClass))
	for k := range byClass {
		ks = append(ks, k)
	}
	sort.Ints(ks)
	balanced := true
	n0 := len(byClass[ks[0]])
	for _, k := range ks {
		if len(byClass[k]) != n0 {
			balanced = false
		}
	}
	if !balanced {
		log.Println(fmt.Errorf("folds.Stratified: class totals are unequal %v -- fold balance and therefore prediction bias cannot be guaranteed", ClassCounts(keys)))
	}
	fs := make([]Fold, ncv)
	fi := 0
	for _, k := range ks {
		ord := byClass[k]
		erand.PermuteInts(ord)
		for _, ti := range ord {
			fs[fi%ncv].Test = append(fs[fi%ncv].Test, ti)
			fi++
		}
	}
	fillTrain(fs, n)
	return fs, balanced
}

// Random partitions n trials into ncv folds uniformly at random,
// for continuous responses where no class stratification applies.
func Random(n, ncv int) []Fold {
	ord := make([]int, n)
	for i := range ord {
		ord[i] = i
	}
	erand.PermuteInts(ord)
	fs := make([]Fold, ncv)
	for i, ti := range ord {
		fs[i%ncv].Test = append(fs[i%ncv].Test, ti)
	}
	fillTrain(fs, n)
	return fs
}

// fillTrain sets each fold's Train set to the complement of its Test set,
// and sorts both for deterministic downstream iteration.
func fillTrain(fs []Fold, n int) {
	for fi := range fs {
		inTest := make([]bool, n)
		for _, ti := range fs[fi].Test {
			inTest[ti] = true
		}
		for i := 0; i < n; i++ {
			if !inTest[i] {
				fs[fi].Train = append(fs[fi].Train, i)
			}
		}
		sort.Ints(fs[fi].Test)
	}
}

// Check validates the k-fold invariants for a partition of n trials:
// every trial index appears in exactly one fold's test set, and each
// fold's train and test sets are disjoint with union covering all trials.
// Caller-supplied partitions must pass Check before any fold work begins.
func Check(fs []Fold, n int) error {
	if len(fs) == 0 {
		return fmt.Errorf("folds.Check: empty partition")
	}
	seen := make([]int, n)
	for fi, f := range fs {
		in := make([]int, n)
		for _, ti := range f.Test {
			if ti < 0 || ti >= n {
				return fmt.Errorf("folds.Check: fold %d test index %d out of range [0, %d)", fi, ti, n)
			}
			seen[ti]++
			in[ti]++
		}
		for _, ti := range f.Train {
			if ti < 0 || ti >= n {
				return fmt.Errorf("folds.Check: fold %d train index %d out of range [0, %d)", fi, ti, n)
			}
			if in[ti] > 0 {
				return fmt.Errorf("folds.Check: fold %d trial %d is in both train and test sets", fi, ti)
			}
			in[ti] += 2
		}
		for ti := 0; ti < n; ti++ {
			if in[ti] == 0 {
				return fmt.Errorf("folds.Check: fold %d does not cover trial %d", fi, ti)
			}
		}
	}
	for ti := 0; ti < n; ti++ {
		if seen[ti] != 1 {
			return fmt.Errorf("folds.Check: trial %d appears in %d test sets, must be exactly 1", ti, seen[ti])
		}
	}
	return nil
}
