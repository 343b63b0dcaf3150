package models

// Step results.
const (
	ResultSuccess    = "success"
	ResultTestFailed = "testfailed"
	ResultBusted     = "busted"
	ResultException  = "exception"
	ResultUnknown    = "unknown"
)

// RawLogLine is one line of a raw log. Number is 1-based.
type RawLogLine struct {
	Text   string
	Number int
}

// CrashSignature is the frame annotation of a PROCESS-CRASH style line.
type CrashSignature struct {
	Signature  string `json:"signature"`
	LineNumber int    `json:"linenumber"`
}

// ErrorLine is a log line classified as an error.
type ErrorLine struct {
	Line           string          `json:"line"`
	LineNumber     int             `json:"linenumber"`
	CrashSignature *CrashSignature `json:"crash_signature,omitempty"`
}

// Step is a contiguous segment of a log between two step markers.
type Step struct {
	Name         string      `json:"name"`
	Order        int         `json:"order"`
	StartedLine  int         `json:"started_linenumber"`
	FinishedLine int         `json:"finished_linenumber"`
	Duration     int         `json:"duration"`
	Result       string      `json:"result"`
	Errors       []ErrorLine `json:"errors"`
	ErrorCount   int         `json:"error_count"`
	Started      string      `json:"started,omitempty"`
	Finished     string      `json:"finished,omitempty"`
}

// StepData is the structured body of a text log summary.
type StepData struct {
	Steps           []Step      `json:"steps"`
	AllErrors       []ErrorLine `json:"all_errors"`
	ErrorsTruncated bool        `json:"errors_truncated"`
}

// TextLogSummary is the payload of the text_log_summary artifact.
type TextLogSummary struct {
	Header   map[string]any `json:"header"`
	StepData StepData       `json:"step_data"`
	LogURL   string         `json:"logurl,omitempty"`
}
