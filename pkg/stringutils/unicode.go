// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stringutils holds string normalization helpers shared by the
// matching and naming code.
package stringutils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var asciiFallbacks = strings.NewReplacer(
	// Distinct letters in Nordic/Germanic alphabets that NFKD does not
	// decompose to ASCII equivalents.
	"æ", "ae",
	"Æ", "AE",
	"œ", "oe",
	"Œ", "OE",
	"ø", "o",
	"Ø", "O",
	"ß", "ss",
	"ð", "d",
	"Ð", "D",
	"þ", "th",
	"Þ", "TH",
)

// ToASCII removes diacritics and decomposes ligatures so that accented
// release titles compare equal to their plain ASCII library entries.
// Examples:
//   - "Amélie" → "Amelie"
//   - "Björk" → "Bjork"
//   - "ﬁ" → "fi"
func ToASCII(s string) string {
	s = asciiFallbacks.Replace(s)

	// transform.Chain is not safe for concurrent use, build it per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}
