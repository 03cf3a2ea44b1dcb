package service

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// PairingCodeAlphabet excludes the look-alike characters O, I, 0 and 1.
const PairingCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeGroupSize = 4
	codeGroups    = 2
	codeSeparator = "-"
)

// CodeGenerator draws display-formatted pairing codes from an alphabet.
type CodeGenerator struct {
	alphabet string
	random   io.Reader
}

func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{alphabet: PairingCodeAlphabet, random: rand.Reader}
}

// NewCodeGeneratorWith builds a generator over a custom alphabet and random
// source. Tests use it to shrink the code space.
func NewCodeGeneratorWith(alphabet string, random io.Reader) *CodeGenerator {
	return &CodeGenerator{alphabet: alphabet, random: random}
}

// Generate returns a code such as "K7QM-XR3P".
func (g *CodeGenerator) Generate() (string, error) {
	max := big.NewInt(int64(len(g.alphabet)))
	groups := make([]string, codeGroups)

	for i := range groups {
		group := make([]byte, codeGroupSize)
		for j := range group {
			n, err := rand.Int(g.random, max)
			if err != nil {
				return "", fmt.Errorf("draw code character: %w", err)
			}
			group[j] = g.alphabet[n.Int64()]
		}
		groups[i] = string(group)
	}

	return strings.Join(groups, codeSeparator), nil
}

// Normalize upper-cases input, strips whitespace and separators and
// re-inserts the display separator. It reports false when the result is not
// a well-formed code over the generator's alphabet.
func (g *CodeGenerator) Normalize(input string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		switch {
		case r == ' ' || r == '\t' || r == '-':
			continue
		case r > 0x7f || !strings.ContainsRune(g.alphabet, r):
			return "", false
		}
		b.WriteRune(r)
	}

	raw := b.String()
	if len(raw) != codeGroupSize*codeGroups {
		return "", false
	}

	groups := make([]string, codeGroups)
	for i := range groups {
		groups[i] = raw[i*codeGroupSize : (i+1)*codeGroupSize]
	}
	return strings.Join(groups, codeSeparator), true
}
