package core

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/iti/rngstream"
)

// Moduli of the two MRG32k3a components. Seed words must lie in [1, m).
const (
	rngModulus1 = 4294967087
	rngModulus2 = 4294944443
)

// StreamSeed derives the six seed words of a random stream from a node
// seed and the labels naming the stream. Equal inputs give equal seeds
// whatever else the process has created.
func StreamSeed(seed uint64, labels ...string) []uint64 {
	key := strconv.FormatUint(seed, 10) + "\x00" + strings.Join(labels, "\x00")
	words := make([]uint64, 6)
	for i := range words {
		m := uint64(rngModulus1)
		if i >= 3 {
			m = rngModulus2
		}
		h := xxhash.Sum64String(key + "\x00" + strconv.Itoa(i))
		words[i] = 1 + h%(m-1)
	}
	return words
}

// NewSeededStream returns a stream named by the joined labels and seeded
// from StreamSeed.
func NewSeededStream(seed uint64, labels ...string) *rngstream.RngStream {
	g := rngstream.New(strings.Join(labels, "/"))
	g.SetSeed(StreamSeed(seed, labels...))
	return g
}
