package otp

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// Generator produces fixed-length numeric codes, uniformly distributed over
// 0..10^length-1 and left-padded with zeros.
type Generator struct {
	length int
	max    *big.Int
	random io.Reader
}

// NewGenerator returns a generator reading from crypto/rand.
func NewGenerator(length int) *Generator {
	return NewGeneratorWithReader(length, rand.Reader)
}

// NewGeneratorWithReader lets tests supply a deterministic entropy source.
func NewGeneratorWithReader(length int, random io.Reader) *Generator {
	return &Generator{
		length: length,
		max:    new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil),
		random: random,
	}
}

func (g *Generator) Length() int {
	return g.length
}

// Generate returns a new code. rand.Int rejects out-of-range samples instead
// of reducing them modulo 10^n, which keeps the distribution uniform.
func (g *Generator) Generate() (string, error) {
	n, err := rand.Int(g.random, g.max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", g.length, n), nil
}
