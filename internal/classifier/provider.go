// Package classifier is the gateway to the LLM that decides whether
// candidate records describe an already-known accident event. Providers
// are advisory: every failure mode surfaces as ErrUnavailable and the
// resolver falls back to deterministic keying.
package classifier

import (
	"context"
	"errors"
)

// ErrUnavailable reports that no classifier verdict could be obtained:
// transport failure, timeout, exhausted call budget or an unparseable
// response. It never fails a batch; callers degrade to deterministic keys.
var ErrUnavailable = errors.New("classifier unavailable")

// Candidate is one unassigned record summarized down to its
// identity-relevant fields.
type Candidate struct {
	RecordID string `json:"record_id"`
	Date     string `json:"date,omitempty"`
	Place    string `json:"place,omitempty"`
	Activity string `json:"activity,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// KnownEvent summarizes an existing event the batch may join.
type KnownEvent struct {
	EventKey string `json:"event_key"`
	Date     string `json:"date,omitempty"`
	Place    string `json:"place,omitempty"`
	Activity string `json:"activity,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// Request is one clustering batch.
type Request struct {
	Candidates  []Candidate
	KnownEvents []KnownEvent
}

// Verdict assigns one candidate, positionally. An empty EventKey means
// the candidate belongs to no known event and should seed a new one.
type Verdict struct {
	RecordID string `json:"record_id"`
	EventKey string `json:"event_key"`
}

// Response carries verdicts aligned with Request.Candidates. Providers
// may return fewer verdicts than candidates; the tail is treated as
// unanswered.
type Response struct {
	Verdicts []Verdict
}

// Provider issues clustering verdicts for candidate batches.
type Provider interface {
	Name() string
	Classify(ctx context.Context, req Request) (*Response, error)
}

// FusionRequest asks for a single merged narrative when member records
// disagree on a narrative field.
type FusionRequest struct {
	EventKey string
	Field    string
	Variants []string
}

// FusionResponse is the merged narrative text.
type FusionResponse struct {
	Text string
}

// Fuser is implemented by providers that can also merge conflicting
// narrative fields during fusion.
type Fuser interface {
	FuseNarratives(ctx context.Context, req FusionRequest) (*FusionResponse, error)
}
