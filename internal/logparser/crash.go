package logparser

import (
	"regexp"
	"strings"

	"github.com/kiranshivaraju/logsift/pkg/models"
)

var reCrash = regexp.MustCompile(`application crashed \[@ (.+?)\]\s*(?:\||$)`)

// ExtractCrashSignature returns the frame annotation of a crash line such as
// "PROCESS-CRASH | test | application crashed [@ frame]".
func ExtractCrashSignature(line models.ErrorLine) (*models.CrashSignature, bool) {
	if !strings.Contains(line.Line, "application crashed [@ ") {
		return nil, false
	}
	m := reCrash.FindStringSubmatch(line.Line)
	if m == nil {
		return nil, false
	}
	sig := strings.TrimSpace(m[1])
	if sig == "" {
		return nil, false
	}
	return &models.CrashSignature{Signature: sig, LineNumber: line.LineNumber}, true
}
