// Package handle derives the unique human-readable identifier assigned to a
// created account or vendor store. Derivation never fails: for any input,
// including empty name and email, it produces a non-empty handle within
// length bounds composed only of [a-z0-9].
package handle

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

var illegalChars = regexp.MustCompile("[^a-z0-9]+")

// counter disambiguates synthesized handles generated within the same second
var counter uint64

// Generator produces handles within configured length bounds
type Generator struct {
	minLength int
	maxLength int
}

// NewGenerator creates a handle generator. Bounds are clamped to sane values.
func NewGenerator(minLength, maxLength int) *Generator {
	if minLength < 1 {
		minLength = 1
	}
	if maxLength < minLength {
		maxLength = minLength
	}
	return &Generator{minLength: minLength, maxLength: maxLength}
}

// Normalize lowercases the input and strips every character outside [a-z0-9],
// truncating to the generator's maximum length
func (g *Generator) Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = illegalChars.ReplaceAllString(s, "")
	if len(s) > g.maxLength {
		s = s[:g.maxLength]
	}
	return s
}

// IsValid reports whether a candidate already satisfies the handle rules
func (g *Generator) IsValid(candidate string) bool {
	if len(candidate) < g.minLength || len(candidate) > g.maxLength {
		return false
	}
	return !illegalChars.MatchString(candidate)
}

// Derive produces a handle from the available user-supplied fields, first
// match wins: normalized display name, then the email local part, then a
// synthesized vendor handle.
func (g *Generator) Derive(name, email string) string {
	if h := g.Normalize(name); len(h) >= g.minLength {
		return h
	}

	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}
	if h := g.Normalize(local); len(h) >= g.minLength {
		return h
	}

	return g.synthesize()
}

// Suggest returns up to n alternative handles for a taken base, suffixed
// with increasing discriminators
func (g *Generator) Suggest(base string, n int) []string {
	base = g.Normalize(base)
	if len(base) < g.minLength {
		base = g.synthesize()
	}

	suggestions := make([]string, 0, n)
	for i := 1; len(suggestions) < n && i <= n+2; i++ {
		suffix := fmt.Sprintf("%d", i)
		candidate := base
		if len(candidate)+len(suffix) > g.maxLength {
			candidate = candidate[:g.maxLength-len(suffix)]
		}
		suggestions = append(suggestions, candidate+suffix)
	}
	return suggestions
}

func (g *Generator) synthesize() string {
	n := atomic.AddUint64(&counter, 1)
	h := fmt.Sprintf("vendor%d%d", time.Now().Unix(), n)
	if len(h) > g.maxLength {
		h = h[:g.maxLength]
	}
	return h
}
