package booking

import "sort"

// RefundIDs is a set of provider refund identifiers. The set only ever
// grows: merges are unions, never replacements that could drop an id.
type RefundIDs map[string]struct{}

// NewRefundIDs builds a set from the given ids, ignoring empty strings.
func NewRefundIDs(ids ...string) RefundIDs {
	s := make(RefundIDs, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Union returns a new set containing every id from both sets.
func (s RefundIDs) Union(other RefundIDs) RefundIDs {
	out := make(RefundIDs, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Contains reports whether the id is in the set.
func (s RefundIDs) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in lexical order, for stable persistence and logs.
func (s RefundIDs) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
