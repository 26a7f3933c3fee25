package models

// PriceRange is the min/max asking price observed across a duplicate group.
// Nil when no member carries an asking price.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DuplicateGroup is a derived view over listings that share a normalized
// name. Recomputed per detection pass and never persisted as authoritative.
type DuplicateGroup struct {
	NormalizedName string      `json:"normalized_name"`
	MemberIDs      []string    `json:"member_ids"`
	PriceRange     *PriceRange `json:"price_range,omitempty"`
	Sources        []string    `json:"sources"`
}
