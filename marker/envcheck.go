package marker

import "strings"

const notFoundSignature = "command not found"

// DefaultRunnerBinaries are names whose presence before a not-found
// signature indicates test output rather than a broken environment.
var DefaultRunnerBinaries = []string{"jest", "react-scripts"}

// EnvErrorDetector recognizes "command not found" output that is not
// itself about the runner binary.
type EnvErrorDetector struct {
	// Binaries excluded from detection; matched case-insensitively on the
	// same line before the signature.
	Binaries []string
}

// NewEnvErrorDetector returns a detector for the default runner binaries.
func NewEnvErrorDetector() EnvErrorDetector {
	return EnvErrorDetector{Binaries: DefaultRunnerBinaries}
}

// Match reports whether any line of text is an environment error.
func (d EnvErrorDetector) Match(text string) bool {
	for line := range strings.SplitSeq(text, "\n") {
		if d.matchLine(strings.ToLower(line)) {
			return true
		}
	}
	return false
}

func (d EnvErrorDetector) matchLine(line string) bool {
	idx := strings.Index(line, notFoundSignature)
	if idx < 0 {
		return false
	}
	prefix := line[:idx]
	for _, bin := range d.Binaries {
		if bin != "" && strings.Contains(prefix, strings.ToLower(bin)) {
			return false
		}
	}
	return true
}
