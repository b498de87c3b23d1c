package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/retry"
	"github.com/amishk599/jobflow/internal/workflow"
)

// ClassifyStep vets every pending candidate with the classifier and appends
// the relevant ones to the state's listings.
//
// Each posting gets its own retry budget under policy. A posting whose
// classification still fails after the last attempt is excluded and noted in
// the state's errors; the other postings are unaffected. The step itself only
// fails when ctx ends.
func ClassifyStep(classifier model.Classifier, filter model.ListingFilter, policy retry.Policy, logger *slog.Logger) workflow.Action {
	return func(ctx context.Context, s workflow.State) (workflow.State, error) {
		candidates := s.Candidates
		s.Candidates = nil

		var kept, filtered, irrelevant, failed int
		for _, c := range candidates {
			if filter != nil && !filter.Match(c) {
				filtered++
				logger.Debug("posting filtered out", "reference", c.Reference, "title", c.Title)
				continue
			}

			var judgment model.Judgment
			attempts, err := retry.Do(ctx, policy, logger.With("reference", c.Reference), func(ctx context.Context, _ int) error {
				j, err := classifier.Classify(ctx, ClassificationText(c))
				if err != nil {
					return err
				}
				judgment = j
				return nil
			})
			if err != nil {
				if ctx.Err() != nil {
					return s, fmt.Errorf("classifying %s: %w", c.Reference, err)
				}
				failed++
				s.RecordError(fmt.Errorf("posting %s excluded after %d classification attempt(s): %w", c.Reference, attempts, err))
				logger.Warn("posting excluded, classification failed",
					"reference", c.Reference,
					"attempts", attempts,
					"error", err,
				)
				continue
			}

			if !judgment.Relevant {
				irrelevant++
				logger.Debug("posting judged irrelevant", "reference", c.Reference)
				continue
			}
			c.DescriptionSummary = strings.TrimSpace(judgment.Summary)
			s.AppendListings(c)
			kept++
		}

		s.Logf("classified %d posting(s): %d relevant, %d irrelevant, %d filtered, %d excluded on error",
			len(candidates), kept, irrelevant, filtered, failed)
		logger.Info("classification done",
			"candidates", len(candidates),
			"relevant", kept,
			"irrelevant", irrelevant,
			"filtered", filtered,
			"excluded", failed,
		)
		return s, nil
	}
}

// ClassificationText is the text handed to the classifier for one posting.
func ClassificationText(l model.Listing) string {
	var b strings.Builder
	line := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	line("Title", l.Title)
	line("Client", l.Client)
	line("Location", l.Location)
	line("Start date", l.StartDate)
	line("End date", l.EndDate)
	line("Skills", l.Skills)
	if d, ok := l.RawData["description"].(string); ok && strings.TrimSpace(d) != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(d))
	}
	return b.String()
}
