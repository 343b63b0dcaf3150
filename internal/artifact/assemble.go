package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/logsift/pkg/models"
)

// jsonType is the type recorded on generated artifacts.
const jsonType = "json"

// Input is everything known about a job's artifacts after processing.
type Input struct {
	// Submitted artifacts, passed through verbatim.
	Submitted []models.Artifact
	// ParsedSummary is set only when parsing ran and succeeded.
	ParsedSummary *models.TextLogSummary
	// Suggestions holds the matcher output when SuggestionsRan is true.
	Suggestions    []models.BugSuggestion
	SuggestionsRan bool
}

// Assemble builds the final artifact set for a job. Submitted artifacts
// always come first and unchanged. A generated text_log_summary or Bug
// suggestions artifact is added only when none with that name was
// submitted and the producing stage actually ran.
func Assemble(jobID uuid.UUID, in Input) ([]models.Artifact, error) {
	out := make([]models.Artifact, 0, len(in.Submitted)+2)
	out = append(out, in.Submitted...)

	if in.ParsedSummary != nil && !Has(in.Submitted, models.ArtifactTextLogSummary) {
		a, err := generated(jobID, models.ArtifactTextLogSummary, in.ParsedSummary)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	if in.SuggestionsRan && !Has(in.Submitted, models.ArtifactBugSuggestions) {
		suggestions := in.Suggestions
		if suggestions == nil {
			suggestions = []models.BugSuggestion{}
		}
		a, err := generated(jobID, models.ArtifactBugSuggestions, suggestions)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, nil
}

func generated(jobID uuid.UUID, name string, v any) (models.Artifact, error) {
	blob, err := json.Marshal(v)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return models.Artifact{
		ID:     uuid.New(),
		JobID:  jobID,
		Name:   name,
		Type:   jsonType,
		Blob:   blob,
		Source: models.ArtifactGenerated,
	}, nil
}

// Has reports whether an artifact with the given name is present.
func Has(artifacts []models.Artifact, name string) bool {
	_, ok := Find(artifacts, name)
	return ok
}

// Find returns the first artifact with the given name.
func Find(artifacts []models.Artifact, name string) (models.Artifact, bool) {
	for _, a := range artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return models.Artifact{}, false
}

// SubmittedSummary decodes the submitted text_log_summary, if any.
func SubmittedSummary(artifacts []models.Artifact) (*models.TextLogSummary, error) {
	a, ok := Find(artifacts, models.ArtifactTextLogSummary)
	if !ok {
		return nil, nil
	}
	p, err := Decode(a)
	if err != nil {
		return nil, err
	}
	return &p.(*TextLogSummaryPayload).Summary, nil
}

// ParseStatus is the status a log reference ends with once processing
// finished without a fetch failure: parsed when the log parsed, was declared
// parsed by the submitter, or is covered by a submitted summary.
func ParseStatus(declared string, summarySubmitted, parsedOK bool) string {
	if parsedOK || declared == models.ParseParsed || summarySubmitted {
		return models.ParseParsed
	}
	return models.ParseError
}
