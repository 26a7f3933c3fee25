package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBusinessName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name", "Sunrise Cafe", "sunrise cafe"},
		{"trailing llc", "Acme Holdings, LLC", "acme holdings"},
		{"trailing inc with period", "Sunrise Cafe Inc.", "sunrise cafe"},
		{"stacked suffixes", "Acme Co LLC", "acme"},
		{"suffix word mid-name survives", "Co-op Market", "co op market"},
		{"punctuation variants collapse", "ACME-Holdings", "acme holdings"},
		{"ampersand", "Smith & Sons Ltd", "smith sons"},
		{"extra whitespace", "  Blue   Sky \t Software ", "blue sky software"},
		{"only a suffix", "LLC", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeBusinessName(tt.input))
		})
	}
}

func TestNormalizeBusinessName_EquivalentForms(t *testing.T) {
	variants := []string{
		"Acme Holdings LLC",
		"acme holdings, llc",
		"ACME HOLDINGS",
		"Acme-Holdings Inc",
	}
	for _, v := range variants {
		assert.Equal(t, "acme holdings", NormalizeBusinessName(v), "input: %q", v)
	}
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://example.com/listing/42", NormalizeURL(" https://Example.com/listing/42/ "))
	assert.Equal(t, "", NormalizeURL(""))
}

func TestNormalizeLocation(t *testing.T) {
	assert.Equal(t, "austin tx", NormalizeLocation("Austin, TX"))
	assert.Equal(t, "st louis mo", NormalizeLocation("St. Louis,  MO"))
}

func TestApplyChain(t *testing.T) {
	result := ApplyChain("  Hello,   World  ", "lowercase", "remove_punctuation", "collapse_whitespace")
	assert.Equal(t, "hello world", result)
}

func TestApply_UnknownNormalizerPassesThrough(t *testing.T) {
	assert.Equal(t, "Unchanged", Apply("Unchanged", "does-not-exist"))
}

func TestRegister(t *testing.T) {
	Register("reverse_noop", func(s string) string { return s })
	fn, ok := Get("reverse_noop")
	assert.True(t, ok)
	assert.Equal(t, "x", fn("x"))
}
