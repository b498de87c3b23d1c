package filter

import (
	"strings"

	"github.com/amishk599/jobflow/internal/model"
)

// Compile-time check.
var _ model.ListingFilter = (*KeywordFilter)(nil)

// KeywordFilter is a cheap pre-filter run before classification. A listing
// matches when its title contains any title keyword and none of the excluded
// title keywords, and its location passes the location lists.
// Matching is case-insensitive. Empty keyword lists are treated as "match all",
// and listings without a location always pass the location check because
// several feeds never state one.
type KeywordFilter struct {
	titleKeywords    []string
	titleExcludes    []string
	locations        []string
	excludeLocations []string
}

// NewKeywordFilter returns a filter over the given keyword lists.
func NewKeywordFilter(titleKeywords, titleExcludes, locations, excludeLocations []string) *KeywordFilter {
	return &KeywordFilter{
		titleKeywords:    lower(titleKeywords),
		titleExcludes:    lower(titleExcludes),
		locations:        lower(locations),
		excludeLocations: lower(excludeLocations),
	}
}

// Match reports whether l is worth sending to the classifier.
func (f *KeywordFilter) Match(l model.Listing) bool {
	title := strings.ToLower(l.Title)
	location := strings.ToLower(l.Location)

	if len(f.titleKeywords) > 0 && !containsAny(title, f.titleKeywords) {
		return false
	}
	if containsAny(title, f.titleExcludes) {
		return false
	}

	if location == "" {
		return true
	}
	if len(f.locations) > 0 && !containsAny(location, f.locations) {
		return false
	}
	return !containsAny(location, f.excludeLocations)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
