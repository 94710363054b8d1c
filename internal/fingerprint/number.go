// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fingerprint

import (
	"fmt"
	"strconv"
	"strings"
)

// Number is a scalar-or-range of calculated issue (or volume) numbers.
// The zero value is "absent".
type Number struct {
	set    bool
	ranged bool
	a, b   float64
}

// Single returns a Number holding one value.
func Single(v float64) Number {
	return Number{set: true, a: v, b: v}
}

// NewRange returns an inclusive range [a,b]. A degenerate range collapses to
// a single value.
func NewRange(a, b float64) Number {
	if a == b {
		return Single(a)
	}
	if b < a {
		a, b = b, a
	}
	return Number{set: true, ranged: true, a: a, b: b}
}

// IsSet reports whether a number is present at all.
func (n Number) IsSet() bool { return n.set }

// IsRange reports whether the number spans more than one value.
func (n Number) IsRange() bool { return n.ranged }

// First returns the lower bound (or the single value).
func (n Number) First() float64 { return n.a }

// Last returns the upper bound (or the single value).
func (n Number) Last() float64 { return n.b }

// Span returns the width of the range plus one. A single value has span 1.
func (n Number) Span() float64 {
	if !n.set {
		return 0
	}
	return n.b - n.a + 1
}

// Contains reports whether v falls inside the inclusive range.
func (n Number) Contains(v float64) bool {
	return n.set && n.a <= v && v <= n.b
}

// Overlaps reports whether two set numbers share any value.
func (n Number) Overlaps(o Number) bool {
	return n.set && o.set && n.a <= o.b && o.a <= n.b
}

// Equals compares two numbers including their range shape.
func (n Number) Equals(o Number) bool {
	return n.set == o.set && n.ranged == o.ranged && n.a == o.a && n.b == o.b
}

func (n Number) String() string {
	if !n.set {
		return ""
	}
	if n.ranged {
		return fmt.Sprintf("%s-%s", formatFloat(n.a), formatFloat(n.b))
	}
	return formatFloat(n.a)
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	return strings.TrimSuffix(s, ".0")
}
