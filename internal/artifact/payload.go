// Package artifact decodes artifact blobs by name and assembles the final
// artifact set of a job from submitted and generated parts.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/logsift/pkg/models"
)

// ErrInvalidBlob is returned when a recognized artifact carries a blob that
// does not decode to its expected shape.
var ErrInvalidBlob = errors.New("invalid artifact blob")

// Payload is the decoded form of an artifact blob. The concrete type is
// selected by artifact name.
type Payload interface {
	ArtifactName() string
}

// TextLogSummaryPayload is a decoded text_log_summary.
type TextLogSummaryPayload struct {
	Summary models.TextLogSummary
}

func (*TextLogSummaryPayload) ArtifactName() string { return models.ArtifactTextLogSummary }

// BugSuggestionsPayload keeps the suggestion list as submitted. Entries are
// not interpreted beyond checking that the blob is a list.
type BugSuggestionsPayload struct {
	Raw json.RawMessage
}

func (*BugSuggestionsPayload) ArtifactName() string { return models.ArtifactBugSuggestions }

// Len returns the number of suggestions in the list.
func (p *BugSuggestionsPayload) Len() int {
	var items []json.RawMessage
	if err := json.Unmarshal(p.Raw, &items); err != nil {
		return 0
	}
	return len(items)
}

// OpaquePayload is any artifact without a known decoder.
type OpaquePayload struct {
	Name string
	Raw  []byte
}

func (p *OpaquePayload) ArtifactName() string { return p.Name }

// Decode returns the tagged payload for a.
func Decode(a models.Artifact) (Payload, error) {
	switch a.Name {
	case models.ArtifactTextLogSummary:
		return decodeTextLogSummary(a.Blob)
	case models.ArtifactBugSuggestions:
		return decodeBugSuggestions(a.Blob)
	default:
		return &OpaquePayload{Name: a.Name, Raw: a.Blob}, nil
	}
}

func decodeTextLogSummary(blob []byte) (*TextLogSummaryPayload, error) {
	raw, err := unwrapString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBlob, models.ArtifactTextLogSummary, err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: %s: not an object", ErrInvalidBlob, models.ArtifactTextLogSummary)
	}
	var p TextLogSummaryPayload
	if err := json.Unmarshal(raw, &p.Summary); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBlob, models.ArtifactTextLogSummary, err)
	}
	return &p, nil
}

func decodeBugSuggestions(blob []byte) (*BugSuggestionsPayload, error) {
	raw, err := unwrapString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBlob, models.ArtifactBugSuggestions, err)
	}
	if len(raw) == 0 || raw[0] != '[' || !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s: not a list", ErrInvalidBlob, models.ArtifactBugSuggestions)
	}
	return &BugSuggestionsPayload{Raw: raw}, nil
}

// unwrapString returns the content of a JSON string blob, or the trimmed
// blob itself when it is not a string. Some clients encode the payload
// twice.
func unwrapString(blob []byte) ([]byte, error) {
	blob = bytes.TrimSpace(blob)
	if len(blob) == 0 || blob[0] != '"' {
		return blob, nil
	}
	var s string
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, err
	}
	return bytes.TrimSpace([]byte(s)), nil
}
