// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Set{"아파", "병원", "fever"}

	assert.True(t, s.Matches("머리가 아파요"))
	assert.True(t, s.Matches("I have a FEVER"))
	assert.False(t, s.Matches("오늘 날씨가 좋네요"))
	assert.Equal(t, 2, s.Count("아파서 병원 갔어요"))
	assert.Equal(t, 0, Set{}.Count("anything"))

	kw, ok := s.First("병원 가야 하는데 아파")
	assert.True(t, ok)
	assert.Equal(t, "아파", kw)
}

func TestAppendUnique(t *testing.T) {
	got := AppendUnique([]string{"a", "b"}, "b", "c", "a", "c")
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []string{"x"}, AppendUnique(nil, "x", "x"))
}
