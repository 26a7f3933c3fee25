// Package dedupe groups listings into duplicate clusters using normalized
// business names. Grouping is exact-match on the normalized key: conservative
// and high precision, so unrelated businesses are never merged by a fuzzy
// distance guess.
package dedupe

import (
	"sort"

	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/normalizers"
)

// Record is the minimal projection of a listing the detector needs. Both
// persisted listings and in-flight candidates reduce to it.
type Record struct {
	ID          string
	SourceID    string
	Name        string
	AskingPrice *float64
}

// FromListing projects a persisted listing into a detector record.
func FromListing(l *models.Listing) Record {
	return Record{
		ID:          l.ID.String(),
		SourceID:    l.SourceID,
		Name:        l.Name,
		AskingPrice: l.AskingPrice,
	}
}

// FromCandidate projects a connector candidate into a detector record. The
// caller supplies the ID since candidates have no persisted identity yet.
func FromCandidate(id string, c *models.CandidateListing) Record {
	return Record{
		ID:          id,
		SourceID:    c.SourceID,
		Name:        c.Name,
		AskingPrice: c.AskingPrice,
	}
}

// NormalizeKey returns the duplicate-detection key for a business name.
func NormalizeKey(name string) string {
	return normalizers.Apply(name, "nbusiness")
}

// Detect buckets records by normalized name and returns every bucket with two
// or more members as a DuplicateGroup. Output is deterministic and
// order-independent: groups sort by normalized name, members and sources sort
// within each group.
//
// Records whose names normalize to the empty string are treated as unique and
// never grouped; grouping on missing data would mass-match unrelated rows.
func Detect(records []Record) []models.DuplicateGroup {
	buckets := make(map[string][]Record)
	for _, r := range records {
		key := NormalizeKey(r.Name)
		if key == "" {
			continue
		}
		buckets[key] = append(buckets[key], r)
	}

	groups := make([]models.DuplicateGroup, 0)
	for key, members := range buckets {
		if len(members) < 2 {
			continue
		}
		groups = append(groups, buildGroup(key, members))
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].NormalizedName < groups[j].NormalizedName
	})

	return groups
}

func buildGroup(key string, members []Record) models.DuplicateGroup {
	group := models.DuplicateGroup{
		NormalizedName: key,
		MemberIDs:      make([]string, 0, len(members)),
	}

	sourceSet := make(map[string]bool)
	var priceRange *models.PriceRange

	for _, m := range members {
		group.MemberIDs = append(group.MemberIDs, m.ID)
		if m.SourceID != "" {
			sourceSet[m.SourceID] = true
		}
		// Missing prices stay in the group but never shape the range
		if m.AskingPrice == nil {
			continue
		}
		if priceRange == nil {
			priceRange = &models.PriceRange{Min: *m.AskingPrice, Max: *m.AskingPrice}
			continue
		}
		if *m.AskingPrice < priceRange.Min {
			priceRange.Min = *m.AskingPrice
		}
		if *m.AskingPrice > priceRange.Max {
			priceRange.Max = *m.AskingPrice
		}
	}

	group.PriceRange = priceRange

	for source := range sourceSet {
		group.Sources = append(group.Sources, source)
	}

	sort.Strings(group.MemberIDs)
	sort.Strings(group.Sources)

	return group
}
