package models

import (
	"encoding/json"
	"fmt"
)

// JobSubmission is one entry of a job collection posted by a CI client.
type JobSubmission struct {
	Project      string       `json:"project"`
	RevisionHash string       `json:"revision_hash"`
	Job          SubmittedJob `json:"job"`
}

// SubmittedJob carries the job fields plus its log references and artifacts.
type SubmittedJob struct {
	GUID          string              `json:"job_guid"`
	Name          string              `json:"name"`
	State         string              `json:"state"`
	Result        string              `json:"result"`
	Machine       string              `json:"machine"`
	LogReferences []SubmittedLogRef   `json:"log_references"`
	Artifacts     []SubmittedArtifact `json:"artifacts"`
}

// SubmittedLogRef is a log reference as declared by the submitter.
// ParseStatus is either pending or parsed; empty means pending.
type SubmittedLogRef struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ParseStatus string `json:"parse_status"`
}

// SubmittedArtifact is an artifact supplied with the job. Blob is kept
// byte-for-byte: a JSON string is stored as its unquoted contents, any
// other JSON value is stored as written.
type SubmittedArtifact struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Blob    json.RawMessage `json:"blob"`
	JobGUID string          `json:"job_guid,omitempty"`
}

// AddArtifact attaches an artifact whose blob is already serialized.
func (s *JobSubmission) AddArtifact(name, artifactType, blob string) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encoding artifact %q: %w", name, err)
	}
	s.Job.Artifacts = append(s.Job.Artifacts, SubmittedArtifact{
		Name:    name,
		Type:    artifactType,
		Blob:    raw,
		JobGUID: s.Job.GUID,
	})
	return nil
}

// BlobBytes returns the stored form of the artifact blob.
func (a SubmittedArtifact) BlobBytes() []byte {
	var s string
	if err := json.Unmarshal(a.Blob, &s); err == nil {
		return []byte(s)
	}
	return []byte(a.Blob)
}
