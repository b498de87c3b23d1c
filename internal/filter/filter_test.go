package filter

import (
	"testing"

	"github.com/amishk599/jobflow/internal/model"
)

func listing(title, location string) model.Listing {
	return model.Listing{Source: model.SourceBNPPF, Reference: "ABC1", Title: title, Location: location}
}

func TestKeywordFilter_Match(t *testing.T) {
	tests := []struct {
		name             string
		titleKeywords    []string
		titleExcludes    []string
		locations        []string
		excludeLocations []string
		listing          model.Listing
		wantMatch        bool
	}{
		{
			name:          "matches both title and location",
			titleKeywords: []string{"developer", "engineer"},
			locations:     []string{"Brussels", "Remote"},
			listing:       listing("Senior Go Developer", "Brussels"),
			wantMatch:     true,
		},
		{
			name:          "title match but location miss",
			titleKeywords: []string{"developer"},
			locations:     []string{"Brussels"},
			listing:       listing("Java Developer", "Antwerp"),
			wantMatch:     false,
		},
		{
			name:          "case insensitive matching",
			titleKeywords: []string{"DATA ENGINEER"},
			locations:     []string{"brussels"},
			listing:       listing("Data Engineer", "BRUSSELS"),
			wantMatch:     true,
		},
		{
			name:          "excluded title keyword wins",
			titleKeywords: []string{"developer"},
			titleExcludes: []string{"mainframe"},
			listing:       listing("Mainframe Developer", ""),
			wantMatch:     false,
		},
		{
			name:             "excluded location",
			excludeLocations: []string{"luxembourg"},
			listing:          listing("Developer", "Luxembourg City"),
			wantMatch:        false,
		},
		{
			name:          "missing location passes",
			titleKeywords: []string{"developer"},
			locations:     []string{"Brussels"},
			listing:       listing("Go Developer", ""),
			wantMatch:     true,
		},
		{
			name:      "empty keyword lists pass all",
			listing:   listing("Any Role", "Anywhere"),
			wantMatch: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewKeywordFilter(tt.titleKeywords, tt.titleExcludes, tt.locations, tt.excludeLocations)
			got := f.Match(tt.listing)
			if got != tt.wantMatch {
				t.Errorf("Match() = %v, want %v", got, tt.wantMatch)
			}
		})
	}
}
