// Copyright 2025 RevNet ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package rng provides the splittable random streams the framework's
// layers draw from.
//
// Keys split structurally rather than sequentially: a child key depends
// only on its parent's key and index, never on how many values were drawn.
// Reversible layers rely on this to replay dropout masks exactly when they
// re-execute a forward pass during backpropagation.
package rng

import "github.com/revnet-ml/revnet/internal/rng"

// RNG is a deterministic random stream identified by a key.
type RNG = rng.RNG

// New creates a generator from a seed.
//
// Example:
//
//	r := rng.New(42)
//	keys := r.Split(3)  // stable child streams
func New(seed uint64) *RNG {
	return rng.New(seed)
}
