package logparser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kiranshivaraju/logsift/pkg/models"
)

// ErrMalformedLog is returned when the input is not a text log. The summary
// returned alongside it is a best-effort single step.
var ErrMalformedLog = errors.New("malformed log")

// ctxCheckInterval is how many lines are consumed between context checks.
const ctxCheckInterval = 4096

// Options tunes Parse.
type Options struct {
	MaxErrors    int
	MaxLineBytes int
	LogURL       string
}

// Parse streams r through the step parser and returns a text log summary.
// On malformed input or a read error it returns a best-effort summary and an
// error; callers decide whether to keep the partial result.
func Parse(ctx context.Context, r io.Reader, opts Options) (*models.TextLogSummary, error) {
	lr := NewLineReader(r, opts.MaxLineBytes)
	p := NewStepParser(opts.MaxErrors)

	for lr.Next() {
		line := lr.Line()
		if strings.IndexByte(line.Text, 0) >= 0 {
			return p.summary(opts.LogURL, p.BestEffort()),
				fmt.Errorf("%w: binary content at line %d", ErrMalformedLog, line.Number)
		}
		p.Feed(line)

		if line.Number%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return p.summary(opts.LogURL, p.BestEffort()), fmt.Errorf("parse interrupted: %w", err)
			}
		}
	}
	if err := lr.Err(); err != nil {
		return p.summary(opts.LogURL, p.BestEffort()), fmt.Errorf("%w: reading log: %w", ErrMalformedLog, err)
	}

	return p.summary(opts.LogURL, p.Finish()), nil
}

func (p *StepParser) summary(logURL string, data models.StepData) *models.TextLogSummary {
	return &models.TextLogSummary{
		Header:   p.Header(),
		StepData: data,
		LogURL:   logURL,
	}
}
