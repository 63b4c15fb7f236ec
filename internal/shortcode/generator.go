package shortcode

import (
	"math/rand/v2"
	"strings"
)

const (
	alphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	segmentLength = 4
	segmentCount  = 2
	separator     = "-"
)

// Generator issues short, human-shareable room codes in the form XXXX-XXXX.
// Uniqueness is statistical; callers reconcile against the store and re-roll
// on a detected collision.
type Generator struct {
	intn func(n int) int
}

// NewGenerator constructs a Generator backed by the default random source.
func NewGenerator() *Generator {
	return &Generator{intn: rand.IntN}
}

// NewGeneratorWithSource constructs a Generator drawing indices from the
// provided function. A nil source falls back to the default.
func NewGeneratorWithSource(intn func(n int) int) *Generator {
	if intn == nil {
		return NewGenerator()
	}
	return &Generator{intn: intn}
}

// Generate returns a fresh code. It never fails.
func (g *Generator) Generate() string {
	segments := make([]string, 0, segmentCount)
	for s := 0; s < segmentCount; s++ {
		var builder strings.Builder
		builder.Grow(segmentLength)
		for i := 0; i < segmentLength; i++ {
			builder.WriteByte(alphabet[g.intn(len(alphabet))])
		}
		segments = append(segments, builder.String())
	}
	return strings.Join(segments, separator)
}
