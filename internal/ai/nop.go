package ai

import (
	"context"
	"strings"

	"github.com/amishk599/jobflow/internal/model"
)

// NopClassifier is used when the classifier is disabled. Every posting is
// relevant and the summary is the leading part of the text.
type NopClassifier struct{}

// NewNopClassifier returns a NopClassifier.
func NewNopClassifier() *NopClassifier {
	return &NopClassifier{}
}

// Classify returns a relevant judgment with a truncated summary.
func (n *NopClassifier) Classify(_ context.Context, text string) (model.Judgment, error) {
	return model.Judgment{Relevant: true, Summary: Truncate(text, 300)}, nil
}

// Truncate collapses whitespace and cuts s to at most n runes, adding "..." when cut.
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
