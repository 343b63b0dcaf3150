package logparser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/logsift/pkg/models"
)

// DefaultMaxErrors caps all_errors and each step's error list.
const DefaultMaxErrors = 100

const (
	preambleStepName = "preamble"
	defaultStepName  = "step"
	secondsPerDay    = 24 * 60 * 60

	// A clock time this far behind the previous one means the day wrapped.
	rolloverThreshold = 12 * 60 * 60
)

var (
	reReturnCode = regexp.MustCompile(`Return code: *-?([0-9]+)`)
	reException  = regexp.MustCompile(`^\[[\w-]+:exception\]|Automation Error:|command timed out:`)
	reClockTime  = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})\s`)
	reISOTime    = regexp.MustCompile(`^\[?(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2})`)
	reHeaderLine = regexp.MustCompile(`^(builder|slave|starttime|results|buildid|builduid|revision): (.*)$`)
)

type parserState int

const (
	noStepOpen parserState = iota
	stepOpen
)

// openStep accumulates a step between its start marker and its close.
type openStep struct {
	step       models.Step
	firstTS    int64
	lastTS     int64
	dayOffset  int64
	haveTS     bool
	absoluteTS bool
	busted     bool
	testFailed bool
	exception  bool
}

// StepParser is a single-pass state machine over log lines. Feed every line
// in order, then call Finish exactly once.
type StepParser struct {
	maxErrors int
	state     parserState

	current  *openStep
	preamble *openStep
	steps    []models.Step

	header    map[string]any
	allErrors []models.ErrorLine
	truncated bool
	lastLine  int
	sawMarker bool
}

// NewStepParser returns a parser capping error lists at maxErrors
// (DefaultMaxErrors when <= 0).
func NewStepParser(maxErrors int) *StepParser {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &StepParser{
		maxErrors: maxErrors,
		state:     noStepOpen,
		preamble:  &openStep{step: models.Step{Name: preambleStepName, StartedLine: 1}},
		header:    map[string]any{},
	}
}

// Feed consumes the next line.
func (p *StepParser) Feed(line models.RawLogLine) {
	p.lastLine = line.Number
	c := Classify(line.Text)

	switch c.Kind {
	case KindStepStart:
		if p.state == stepOpen {
			p.closeStep(line.Number - 1)
		}
		p.openStep(c.StepName, line.Number)
	case KindError:
		p.addError(line)
	default:
		if !p.sawMarker {
			p.readHeader(line.Text)
		}
	}

	if p.state == stepOpen {
		p.current.observeTimestamp(line.Text)
	} else {
		p.preamble.observeTimestamp(line.Text)
	}
}

// Finish closes any open step and returns the summary.
func (p *StepParser) Finish() models.StepData {
	if p.state == stepOpen {
		p.closeStep(p.lastLine)
	}

	steps := p.steps
	switch {
	case !p.sawMarker && p.lastLine == 0:
		steps = []models.Step{}
	case !p.sawMarker:
		p.preamble.step.Name = defaultStepName
		steps = []models.Step{p.preamble.close(p.lastLine)}
	case p.preamble.step.ErrorCount > 0:
		first := steps[0].StartedLine - 1
		steps = append([]models.Step{p.preamble.close(first)}, steps...)
	}
	for i := range steps {
		steps[i].Order = i
	}

	return models.StepData{
		Steps:           steps,
		AllErrors:       nonNilErrors(p.allErrors),
		ErrorsTruncated: p.truncated,
	}
}

// BestEffort summarizes whatever was consumed so far as a single step with
// an unknown result. Used when the input turns out to be malformed.
func (p *StepParser) BestEffort() models.StepData {
	count := p.preamble.step.ErrorCount
	for _, s := range p.steps {
		count += s.ErrorCount
	}
	if p.current != nil && p.state == stepOpen {
		count += p.current.step.ErrorCount
	}

	return models.StepData{
		Steps: []models.Step{{
			Name:         defaultStepName,
			StartedLine:  1,
			FinishedLine: p.lastLine,
			Result:       models.ResultUnknown,
			Errors:       append([]models.ErrorLine{}, p.allErrors...),
			ErrorCount:   count,
		}},
		AllErrors:       nonNilErrors(p.allErrors),
		ErrorsTruncated: p.truncated,
	}
}

// Header returns key/value pairs read from lines before the first step.
func (p *StepParser) Header() map[string]any {
	return p.header
}

func (p *StepParser) openStep(name string, lineNumber int) {
	p.sawMarker = true
	p.current = &openStep{step: models.Step{
		Name:        name,
		StartedLine: lineNumber,
	}}
	p.state = stepOpen
}

func (p *StepParser) closeStep(finishedLine int) {
	p.steps = append(p.steps, p.current.close(finishedLine))
	p.current = nil
	p.state = noStepOpen
}

func (p *StepParser) addError(line models.RawLogLine) {
	errLine := models.ErrorLine{Line: line.Text, LineNumber: line.Number}
	if sig, ok := ExtractCrashSignature(errLine); ok {
		errLine.CrashSignature = sig
	}

	target := p.preamble
	if p.state == stepOpen {
		target = p.current
	}
	target.addError(errLine, p.maxErrors)

	if len(p.allErrors) < p.maxErrors {
		p.allErrors = append(p.allErrors, errLine)
	} else {
		p.truncated = true
	}
}

func (p *StepParser) readHeader(text string) {
	if m := reHeaderLine.FindStringSubmatch(text); m != nil {
		p.header[m[1]] = strings.TrimSpace(m[2])
	}
}

func (s *openStep) addError(line models.ErrorLine, maxErrors int) {
	s.step.ErrorCount++
	if len(s.step.Errors) < maxErrors {
		s.step.Errors = append(s.step.Errors, line)
	}

	body, level := stripPrefix(line.Line)
	switch {
	case reException.MatchString(body):
		s.exception = true
	case level == "FATAL" || level == "CRITICAL":
		s.busted = true
	case strings.Contains(body, "TEST-UNEXPECTED"):
		s.testFailed = true
	}
	if m := reReturnCode.FindStringSubmatch(body); m != nil && m[1] != "0" {
		s.busted = true
	}
}

func (s *openStep) observeTimestamp(text string) {
	ts, raw, absolute, ok := parseTimestamp(text)
	if !ok {
		return
	}
	if !s.haveTS {
		s.haveTS = true
		s.absoluteTS = absolute
		s.firstTS = ts
		s.lastTS = ts
		s.step.Started = raw
		s.step.Finished = raw
		return
	}
	if absolute != s.absoluteTS {
		return
	}
	if ts+s.dayOffset < s.lastTS {
		if absolute || s.lastTS-(ts+s.dayOffset) <= rolloverThreshold {
			return
		}
		s.dayOffset += secondsPerDay
	}
	s.lastTS = ts + s.dayOffset
	s.step.Finished = raw
}

func (s *openStep) close(finishedLine int) models.Step {
	step := s.step
	if finishedLine < step.StartedLine {
		finishedLine = step.StartedLine
	}
	step.FinishedLine = finishedLine
	if s.haveTS {
		step.Duration = int(s.lastTS - s.firstTS)
	}
	step.Errors = nonNilErrors(step.Errors)

	switch {
	case s.exception:
		step.Result = models.ResultException
	case s.busted:
		step.Result = models.ResultBusted
	case s.testFailed:
		step.Result = models.ResultTestFailed
	default:
		step.Result = models.ResultSuccess
	}
	return step
}

// parseTimestamp reads a leading "HH:MM:SS" (seconds since midnight) or
// ISO-8601 (unix seconds) timestamp.
func parseTimestamp(text string) (int64, string, bool, bool) {
	if strings.HasPrefix(text, "[task ") {
		if m := reTaskPrefix.FindStringIndex(text); m != nil {
			text = text[m[1]:]
		}
	}
	if len(text) < 8 {
		return 0, "", false, false
	}
	if text[2] == ':' {
		m := reClockTime.FindStringSubmatch(text)
		if m == nil {
			return 0, "", false, false
		}
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		secs, _ := strconv.Atoi(m[3])
		if h > 23 || mins > 59 || secs > 59 {
			return 0, "", false, false
		}
		raw := m[1] + ":" + m[2] + ":" + m[3]
		return int64(h*3600 + mins*60 + secs), raw, false, true
	}
	m := reISOTime.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false, false
	}
	raw := strings.Replace(m[1], "T", " ", 1)
	t, err := time.Parse(time.DateTime, raw)
	if err != nil {
		return 0, "", false, false
	}
	return t.Unix(), raw, true, true
}

func nonNilErrors(errs []models.ErrorLine) []models.ErrorLine {
	if errs == nil {
		return []models.ErrorLine{}
	}
	return errs
}
