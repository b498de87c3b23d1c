package model

import (
	"context"
	"fmt"
	"time"
)

// Source identifies a configured job-posting provider.
type Source string

const (
	SourceConnectingExpertise Source = "connecting_expertise"
	SourceProUnity            Source = "pro_unity"
	SourceBNPPF               Source = "bnppf"
	SourceElia                Source = "elia"
	SourceAGInsurance         Source = "ag_insurance"
)

var knownSources = []Source{
	SourceConnectingExpertise,
	SourceProUnity,
	SourceBNPPF,
	SourceElia,
	SourceAGInsurance,
}

// Sources returns every known source in a stable order.
func Sources() []Source {
	out := make([]Source, len(knownSources))
	copy(out, knownSources)
	return out
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	for _, k := range knownSources {
		if s == k {
			return true
		}
	}
	return false
}

// Listing is one extracted job posting prior to persistence.
type Listing struct {
	Source             Source
	Reference          string // source-native identifier, required
	Title              string
	Client             string
	Location           string
	StartDate          string
	EndDate            string
	Skills             string
	URL                string
	DescriptionSummary string         // classifier output
	RawData            map[string]any // opaque original payload
}

// Key is the deduplication key of a listing.
type Key struct {
	Source    Source
	Reference string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Source, k.Reference)
}

// Key returns the (source, reference) pair identifying l.
func (l Listing) Key() Key {
	return Key{Source: l.Source, Reference: l.Reference}
}

// Validate checks the fields required for persistence.
func (l Listing) Validate() error {
	if !l.Source.Valid() {
		return fmt.Errorf("listing %q: unknown source %q", l.Reference, l.Source)
	}
	if l.Reference == "" {
		return fmt.Errorf("listing from %s: empty reference", l.Source)
	}
	return nil
}

// Clone returns a copy of l that shares no mutable data with it.
func (l Listing) Clone() Listing {
	if l.RawData != nil {
		raw := make(map[string]any, len(l.RawData))
		for k, v := range l.RawData {
			raw[k] = v
		}
		l.RawData = raw
	}
	return l
}

// StoredRecord is the persisted form of a Listing.
type StoredRecord struct {
	ID        int64
	Listing   Listing
	CreatedAt time.Time
}

// InsertResult is the outcome of a single upsert.
type InsertResult int

const (
	Inserted InsertResult = iota
	Duplicate
)

func (r InsertResult) String() string {
	if r == Duplicate {
		return "duplicate"
	}
	return "inserted"
}

// RecordStore persists listings under a (source, reference) uniqueness constraint.
type RecordStore interface {
	UpsertIfAbsent(ctx context.Context, l Listing) (InsertResult, error)
	Exists(ctx context.Context, key Key) (bool, error)
}

// RecordFilter selects stored records for the query surface.
type RecordFilter struct {
	Source Source // empty matches all
	Limit  int
	Offset int
}

// RecordQuerier is the read-only side of a record store.
type RecordQuerier interface {
	ListRecords(ctx context.Context, f RecordFilter) ([]StoredRecord, error)
	CountBySource(ctx context.Context) (map[Source]int, error)
}

// ExecutionRecorder stores execution records for reporting.
type ExecutionRecorder interface {
	SaveExecution(ctx context.Context, rec ExecutionRecord) error
}

// Judgment is the relevance classifier's verdict for one posting.
type Judgment struct {
	Relevant bool
	Summary  string
}

// Classifier decides whether a posting is relevant and summarizes it.
type Classifier interface {
	Classify(ctx context.Context, text string) (Judgment, error)
}

// OutputSink durably writes a batch of listings and returns the destination written.
type OutputSink interface {
	WriteBatch(ctx context.Context, source Source, listings []Listing) (string, error)
}

// Notifier reports the outcome of a run.
type Notifier interface {
	Notify(ctx context.Context, records []ExecutionRecord) error
}

// ListingFilter decides whether a listing is worth classifying at all.
type ListingFilter interface {
	Match(l Listing) bool
}
