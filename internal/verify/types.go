package verify

import (
	"time"
)

// Identifier is a canonical, digit-only phone number carrying the country
// calling code. Values are produced by the phone package and never mutated.
type Identifier string

// String implements fmt.Stringer.
func (id Identifier) String() string {
	return string(id)
}

// Outcome classifies a single lookup attempt.
type Outcome string

// Supported lookup outcomes.
const (
	OutcomeFound         Outcome = "found"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeIndeterminate Outcome = "indeterminate"
	OutcomeError         Outcome = "error"
)

// Tier tags which lookup stage produced a verdict.
type Tier string

// Lookup tiers. The values double as the "via" tag on progress events.
const (
	TierSession     Tier = "wweb"
	TierClickToChat Tier = "click-to-chat"
)

// Reasons attached to negative verdicts.
const (
	ReasonPrimaryLookupError = "primary lookup error"
	ReasonNoAccount          = "no account"
	ReasonIndeterminate      = "indeterminate"
)

// LookupResult is the transient value returned by a lookup tier.
type LookupResult struct {
	Outcome Outcome
	Via     Tier
	// Err carries the transport or timeout message when Outcome is OutcomeError.
	Err string
}

// ItemError records an identifier whose verdict rests on a failure.
type ItemError struct {
	Identifier Identifier `json:"digits"`
	Reason     string     `json:"reason"`
}

// RunState is the mutable record of the in-progress or most recent run.
// Only the runner loop writes it; readers receive copies via Clone.
type RunState struct {
	Running       bool
	StopRequested bool
	StartedAt     time.Time
	FinishedAt    time.Time
	Total         int
	Processed     int
	Current       Identifier
	HasMatch      []Identifier
	NoMatch       []Identifier
	Errors        []ItemError
}

// Clone returns a deep copy so callers never alias the runner's slices.
func (s RunState) Clone() RunState {
	cp := s
	cp.HasMatch = append([]Identifier(nil), s.HasMatch...)
	cp.NoMatch = append([]Identifier(nil), s.NoMatch...)
	cp.Errors = append([]ItemError(nil), s.Errors...)
	return cp
}

// Snapshot is the read-only view served by the status endpoint and pushed to
// subscribers.
type Snapshot struct {
	SessionReady  bool       `json:"sessionReady"`
	Running       bool       `json:"running"`
	StopRequested bool       `json:"stopRequested"`
	StartedAt     *time.Time `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt"`
	Total         int        `json:"total"`
	Processed     int        `json:"processed"`
	Current       *string    `json:"current"`
	HasMatchCount int        `json:"hasMatchCount"`
	NoMatchCount  int        `json:"noMatchCount"`
	ErrorsCount   int        `json:"errorsCount"`
	ProgressPct   int        `json:"progressPct"`
	LastQRDataURL *string    `json:"lastQrDataUrl"`
}

// NewSnapshot derives a Snapshot from the run state and the session status.
// The login artifact is only exposed while the session is not ready.
func NewSnapshot(state RunState, sessionReady bool, loginArtifact string) Snapshot {
	snap := Snapshot{
		SessionReady:  sessionReady,
		Running:       state.Running,
		StopRequested: state.StopRequested,
		StartedAt:     timePtr(state.StartedAt),
		FinishedAt:    timePtr(state.FinishedAt),
		Total:         state.Total,
		Processed:     state.Processed,
		HasMatchCount: len(state.HasMatch),
		NoMatchCount:  len(state.NoMatch),
		ErrorsCount:   len(state.Errors),
		ProgressPct:   ProgressPercent(state.Processed, state.Total),
	}
	if state.Current != "" {
		current := string(state.Current)
		snap.Current = &current
	}
	if !sessionReady && loginArtifact != "" {
		snap.LastQRDataURL = &loginArtifact
	}
	return snap
}

// ProgressPercent returns processed/total as a rounded percentage.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return (processed*100 + total/2) / total
}

// Report is the persisted summary of a finished run.
type Report struct {
	ID         string       `json:"id"`
	StartedAt  *time.Time   `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt"`
	Total      int          `json:"total"`
	Processed  int          `json:"processed"`
	HasMatch   []Identifier `json:"hasMatch"`
	NoMatch    []Identifier `json:"noMatch"`
	Errors     []ItemError  `json:"errors"`
}

// NewReport builds a Report from a frozen run state. The ID is assigned by
// the report sink.
func NewReport(state RunState) Report {
	cp := state.Clone()
	return Report{
		StartedAt:  timePtr(cp.StartedAt),
		FinishedAt: timePtr(cp.FinishedAt),
		Total:      cp.Total,
		Processed:  cp.Processed,
		HasMatch:   nonNil(cp.HasMatch),
		NoMatch:    nonNil(cp.NoMatch),
		Errors:     nonNilErrors(cp.Errors),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil(ids []Identifier) []Identifier {
	if ids == nil {
		return []Identifier{}
	}
	return ids
}

func nonNilErrors(errs []ItemError) []ItemError {
	if errs == nil {
		return []ItemError{}
	}
	return errs
}
