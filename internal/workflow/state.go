package workflow

import (
	"fmt"
	"strconv"

	"github.com/amishk599/jobflow/internal/model"
)

// Input is the per-source payload supplied by the trigger surface:
// credentials, pagination limits, output destination and free-form extras.
type Input map[string]string

// Well-known input keys.
const (
	InputUsername  = "username"
	InputPassword  = "password"
	InputMaxPages  = "max_pages"
	InputDaysBack  = "days_back"
	InputOutputDir = "output_dir"
)

// Get returns the value for key, or "" if absent.
func (in Input) Get(key string) string {
	return in[key]
}

// Int returns key parsed as an int, or def if absent or unparseable.
func (in Input) Int(key string, def int) int {
	v, ok := in[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// State is the run state threaded through one execution. It is owned by a single
// Executor; every step attempt receives its own Clone.
type State struct {
	ExecutionID string
	Workflow    string
	Source      model.Source
	CurrentStep string
	Input       Input

	// Values holds named fields written by steps (cursors, cookies, flags).
	Values map[string]any

	// Candidates are postings extracted but not yet vetted by classification.
	Candidates []model.Listing

	// Listings only grows; these are handed to persistence.
	Listings []model.Listing

	Messages []string
	Errors   []string
	Attempts map[string]int
}

// NewState returns an empty state for one execution of a source.
func NewState(executionID string, source model.Source, input Input) State {
	return State{
		ExecutionID: executionID,
		Source:      source,
		Input:       input,
		Values:      make(map[string]any),
		Attempts:    make(map[string]int),
	}
}

// Clone returns a deep copy of s. Values are copied shallowly per key; steps
// must store immutable values (strings, numbers, fresh slices).
func (s State) Clone() State {
	out := s
	out.Input = make(Input, len(s.Input))
	for k, v := range s.Input {
		out.Input[k] = v
	}
	out.Values = make(map[string]any, len(s.Values))
	for k, v := range s.Values {
		out.Values[k] = v
	}
	out.Attempts = make(map[string]int, len(s.Attempts))
	for k, v := range s.Attempts {
		out.Attempts[k] = v
	}
	out.Candidates = cloneListings(s.Candidates)
	out.Listings = cloneListings(s.Listings)
	out.Messages = append([]string(nil), s.Messages...)
	out.Errors = append([]string(nil), s.Errors...)
	return out
}

func cloneListings(in []model.Listing) []model.Listing {
	if in == nil {
		return nil
	}
	out := make([]model.Listing, len(in))
	for i, l := range in {
		out[i] = l.Clone()
	}
	return out
}

// Set stores a named field.
func (s *State) Set(key string, v any) {
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[key] = v
}

// String returns a named string field, or "".
func (s State) String(key string) string {
	v, _ := s.Values[key].(string)
	return v
}

// Int returns a named int field, or 0.
func (s State) Int(key string) int {
	v, _ := s.Values[key].(int)
	return v
}

// Bool returns a named bool field, or false.
func (s State) Bool(key string) bool {
	v, _ := s.Values[key].(bool)
	return v
}

// Cursor returns the position recorded for a resumable loop.
func (s State) Cursor(name string) int {
	return s.Int("cursor." + name)
}

// Advance moves a resumable loop's cursor forward by one.
func (s *State) Advance(name string) {
	s.Set("cursor."+name, s.Cursor(name)+1)
}

// AddCandidates queues postings for classification.
func (s *State) AddCandidates(ls ...model.Listing) {
	for _, l := range ls {
		s.Candidates = append(s.Candidates, l.Clone())
	}
}

// AppendListings adds vetted listings. The state keeps its own copies.
func (s *State) AppendListings(ls ...model.Listing) {
	for _, l := range ls {
		s.Listings = append(s.Listings, l.Clone())
	}
}

// Logf appends a diagnostic message.
func (s *State) Logf(format string, args ...any) {
	s.Messages = append(s.Messages, fmt.Sprintf(format, args...))
}

// RecordError appends an error to the run's error log.
func (s *State) RecordError(err error) {
	if err != nil {
		s.Errors = append(s.Errors, err.Error())
	}
}
