package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseMaxAge(t *testing.T) {
	tests := map[string]int{
		"":      0,
		"  ":    0,
		"abc":   0,
		"3600":  3600,
		" 60 ":  60,
		"0":     -1,
		"-5":    -1,
		"1.5":   0,
		"86400": 86400,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseMaxAge(in), "ParseMaxAge(%q)", in)
	}
}

func TestParseExpires(t *testing.T) {
	want := time.Date(2026, time.October, 21, 7, 28, 0, 0, time.UTC)
	for _, in := range []string{
		"Wed, 21 Oct 2026 07:28:00 GMT",
		"Wed, 21-Oct-2026 07:28:00 GMT",
		"Wednesday, 21-Oct-26 07:28:00 GMT",
		"2026-10-21T07:28:00Z",
	} {
		got := ParseExpires(in)
		assert.True(t, got.Equal(want), "ParseExpires(%q) = %v", in, got)
	}

	assert.True(t, ParseExpires("").IsZero())
	assert.True(t, ParseExpires("next tuesday").IsZero())
}

func TestIsInFuture(t *testing.T) {
	assert.True(t, IsInFuture(time.Now().Add(time.Minute)))
	assert.False(t, IsInFuture(time.Now().Add(-time.Minute)))
}
