// Package normalizers provides field normalization functions for duplicate detection
package normalizers

import (
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("remove_whitespace", RemoveWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("nbusiness", NormalizeBusinessName)
	Register("nurl", NormalizeURL)
	Register("nlocation", NormalizeLocation)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// legalSuffixes are trailing corporate designators stripped from business
// names. Matched as whole trailing tokens after punctuation removal.
var legalSuffixes = map[string]bool{
	"llc":          true,
	"llp":          true,
	"lp":           true,
	"pllc":         true,
	"plc":          true,
	"pc":           true,
	"inc":          true,
	"incorporated": true,
	"corp":         true,
	"corporation":  true,
	"co":           true,
	"company":      true,
	"ltd":          true,
	"limited":      true,
}

// Built-in normalizers

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// RemovePunctuation replaces punctuation and symbol characters with spaces so
// "acme-co" and "acme co" normalize identically
func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// CollapseWhitespace collapses runs of whitespace into single spaces and trims
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeBusinessName normalizes a business name for duplicate matching
//   - Lowercase
//   - Punctuation replaced with whitespace
//   - Whitespace collapsed
//   - Trailing legal suffixes removed ("LLC", "Inc", "Co", ...)
func NormalizeBusinessName(s string) string {
	s = Lowercase(s)
	s = RemovePunctuation(s)

	tokens := strings.Fields(s)
	for len(tokens) > 1 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	// A name that is nothing but suffixes normalizes to empty
	if len(tokens) == 1 && legalSuffixes[tokens[0]] {
		return ""
	}

	return strings.Join(tokens, " ")
}

// NormalizeURL normalizes a listing URL (lowercase host, no trailing slash)
func NormalizeURL(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "/")
	return strings.ToLower(s)
}

// NormalizeLocation normalizes a location string for comparison
func NormalizeLocation(s string) string {
	s = Lowercase(s)
	s = RemovePunctuation(s)
	return CollapseWhitespace(s)
}
