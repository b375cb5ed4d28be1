package core

import "math/rand/v2"

// RNG is the random number generator contract consumed by distributions.
// It has the method set of math/rand/v2.Source, so any RNG can be handed
// to gonum samplers directly.
//
// An RNG is not safe for concurrent use; callers advancing particles in
// parallel give each worker its own stream.
type RNG interface {
	Uint64() uint64
}

// streamSalt decorrelates the second PCG word from the seed.
const streamSalt = 0x9e3779b97f4a7c15

// NewRNG returns a seeded PCG stream.
func NewRNG(seed uint64) RNG {
	return rand.NewPCG(seed, seed^streamSalt)
}

// NewStream returns the stream-th independent PCG stream for seed.
func NewStream(seed uint64, stream uint64) RNG {
	return rand.NewPCG(seed, (stream+1)*streamSalt)
}

// Uniform draws a float64 in [0, 1) from rng.
func Uniform(rng RNG) float64 {
	return float64(rng.Uint64()>>11) / (1 << 53)
}
