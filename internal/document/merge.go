package document

import "sort"

// Merge combines listings from several stores into one duplicate-free list.
//
// Documents sharing a DedupKey collapse to the copy whose Source has the
// highest precedence. The result is sorted by CreatedAt descending, ties
// broken by id so repeated calls return the same order.
func Merge(lists ...[]*Document) []*Document {
	byKey := make(map[DedupKey]*Document)
	for _, list := range lists {
		for _, doc := range list {
			if doc == nil {
				continue
			}
			key := doc.Key()
			existing, ok := byKey[key]
			if !ok || doc.Source.Outranks(existing.Source) {
				byKey[key] = doc
			}
		}
	}

	merged := make([]*Document, 0, len(byKey))
	for _, doc := range byKey {
		merged = append(merged, doc)
	}

	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})

	return merged
}
