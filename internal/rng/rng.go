// Package rng implements a splittable, counter-based pseudo-random number
// generator.
//
// Reversible layers recompute their forward pass during the backward pass,
// so every stochastic decision (dropout masks, noise) must be replayable:
// running the same layer twice with the same key must draw the same values.
// Keys are therefore split structurally, never sequentially: a child key is
// a pure function of its parent's key and the child index, independent of
// how many values the parent has drawn.
package rng

import "math"

// SplitMix64 constants.
const (
	gamma = 0x9e3779b97f4a7c15
	mixA  = 0xbf58476d1ce4e5b9
	mixB  = 0x94d049bb133111eb
)

// mix64 is the SplitMix64 finalizer, a bijective avalanche mix.
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * mixA
	z = (z ^ (z >> 27)) * mixB
	return z ^ (z >> 31)
}

// RNG is a deterministic random stream identified by a key. Drawing values
// advances an internal counter; splitting derives child keys without
// consuming from the stream.
type RNG struct {
	key uint64
	ctr uint64
}

// New creates a generator from a seed.
func New(seed uint64) *RNG {
	return &RNG{key: mix64(seed ^ gamma)}
}

// Split derives n child generators. Children depend only on the parent key
// and their index: splitting the same generator twice yields the same
// children, which is what makes forward passes replayable in reverse.
func (r *RNG) Split(n int) []*RNG {
	children := make([]*RNG, n)
	for i := range children {
		children[i] = &RNG{key: mix64(r.key + uint64(i+1)*gamma)}
	}
	return children
}

// Clone returns an independent copy at the same stream position.
func (r *RNG) Clone() *RNG {
	c := *r
	return &c
}

// Uint64 draws the next value from the stream.
func (r *RNG) Uint64() uint64 {
	r.ctr++
	return mix64(r.key + r.ctr*gamma)
}

// Float32 draws a uniform value in [0, 1).
func (r *RNG) Float32() float32 {
	return float32(r.Uint64()>>40) / (1 << 24)
}

// Float64 draws a uniform value in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// Normal draws from the standard normal distribution via Box-Muller.
func (r *RNG) Normal() float64 {
	u1 := r.Float64()
	for u1 == 0 {
		u1 = r.Float64()
	}
	u2 := r.Float64()
	return math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
}

// Fill fills dst with uniform values in [0, 1).
func (r *RNG) Fill(dst []float32) {
	for i := range dst {
		dst[i] = r.Float32()
	}
}

// FillNormal fills dst with standard normal values.
func (r *RNG) FillNormal(dst []float32) {
	for i := range dst {
		dst[i] = float32(r.Normal())
	}
}

// Bernoulli fills dst with 1/0 draws at the given keep probability.
func (r *RNG) Bernoulli(keep float64, dst []float32) {
	for i := range dst {
		if r.Float64() < keep {
			dst[i] = 1
		} else {
			dst[i] = 0
		}
	}
}
