// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToASCII(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain ascii unchanged", input: "Batman", expected: "Batman"},
		{name: "diacritics removed", input: "Amélie", expected: "Amelie"},
		{name: "umlaut removed", input: "Björk", expected: "Bjork"},
		{name: "macron removed", input: "Shōgun", expected: "Shogun"},
		{name: "ligature decomposed", input: "ﬁnal", expected: "final"},
		{name: "ae ligature", input: "Ragnarök & Æsir", expected: "Ragnarok & AEsir"},
		{name: "eszett", input: "Straße", expected: "Strasse"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ToASCII(tt.input))
		})
	}
}
