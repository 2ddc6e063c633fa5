// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lexicon provides substring keyword sets for Korean utterance
// classification. Matching is case-insensitive substring containment, which
// suits agglutinative Korean where stems carry the meaning.
package lexicon

import "strings"

// Set is an ordered list of keywords.
type Set []string

// Normalize lower-cases text for matching.
func Normalize(text string) string {
	return strings.ToLower(text)
}

// Matches reports whether any keyword occurs in text.
func (s Set) Matches(text string) bool {
	t := Normalize(text)
	for _, kw := range s {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// Count returns how many distinct keywords occur in text.
func (s Set) Count(text string) int {
	t := Normalize(text)
	n := 0
	for _, kw := range s {
		if strings.Contains(t, kw) {
			n++
		}
	}
	return n
}

// First returns the first keyword occurring in text.
func (s Set) First(text string) (string, bool) {
	t := Normalize(text)
	for _, kw := range s {
		if strings.Contains(t, kw) {
			return kw, true
		}
	}
	return "", false
}

// AppendUnique appends values not already present in dst, preserving order.
func AppendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, x := range dst {
			if x == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
