package domain

import (
	"fmt"
	"strings"
)

// Pair is an ordered trading pair BASE/QUOTE (spec §3, §GLOSSARY).
type Pair struct {
	Base  string
	Quote string
}

// String renders the pair in its canonical "BASE/QUOTE" form.
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// ParsePair parses a "BASE/QUOTE" string.
func ParsePair(s string) (Pair, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid trading pair %q, want BASE/QUOTE", s)
	}
	return Pair{Base: parts[0], Quote: parts[1]}, nil
}
