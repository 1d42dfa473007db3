// Package sanitize maps DICOM string values to filesystem-safe path
// components. The mapping is deterministic and idempotent, so values that
// already went through it pass unchanged.
package sanitize

import "strings"

// Component sanitizes an arbitrary string for use as a single path
// component. Colons and slashes become dashes, anything else outside the
// safe set becomes an underscore, runs of underscores and dashes collapse
// to one underscore, and leading or trailing underscores are trimmed.
func Component(s string) string {
	return sanitize(s, false)
}

// PatientName sanitizes like Component but preserves the DICOM caret
// separator between name components.
func PatientName(s string) string {
	return sanitize(s, true)
}

func sanitize(s string, preserveCaret bool) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		switch {
		case r == ':' || r == '/':
			b.WriteByte('-')
		case r == '^' && preserveCaret:
			b.WriteByte('^')
		case isSafe(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return strings.Trim(collapseRuns(b.String()), "_")
}

func isSafe(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == '-' || r == ' ':
		return true
	}
	return false
}

// collapseRuns replaces every run of two or more underscore/dash
// characters with a single underscore. Lone characters are kept so a
// deliberate dash survives sanitization.
func collapseRuns(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runStart := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || c == '-' {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 {
			b.WriteString(flushRun(s[runStart:i]))
			runStart = -1
		}
		b.WriteByte(c)
	}
	if runStart >= 0 {
		b.WriteString(flushRun(s[runStart:]))
	}

	return b.String()
}

func flushRun(run string) string {
	if len(run) == 1 {
		return run
	}
	return "_"
}
