package sink

import (
	"context"
	"errors"
	"strings"

	"github.com/amishk599/jobflow/internal/model"
)

// Compile-time check.
var _ model.OutputSink = (MultiSink)(nil)

// MultiSink writes every batch to each sink in turn. A failing sink does not
// stop the others; the destinations written are joined with ", ".
type MultiSink []model.OutputSink

func (m MultiSink) WriteBatch(ctx context.Context, source model.Source, listings []model.Listing) (string, error) {
	var (
		dests []string
		errs  []error
	)
	for _, s := range m {
		dest, err := s.WriteBatch(ctx, source, listings)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if dest != "" {
			dests = append(dests, dest)
		}
	}
	return strings.Join(dests, ", "), errors.Join(errs...)
}
