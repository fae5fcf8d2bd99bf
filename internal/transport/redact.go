package transport

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
)

const redactedPlaceholder = "[REDACTED]"

// RawRedactionPatterns mirrors the tool-pattern convention used elsewhere in
// this codebase: entries prefixed with "re:" compile as regex, everything
// else is a plain literal to replace outright.
type RawRedactionPatterns struct {
	Patterns []string
}

// compiledPattern is either a literal (matched with strings.Contains) or a
// compiled regexp, never both.
type compiledPattern struct {
	literal string
	re      *regexp.Regexp
}

// Redactor scrubs secrets out of transcript text before it is persisted or
// tee'd to the terminal: configured literal/regex patterns first, then a
// gitleaks detector pass over the default ruleset for anything the
// hand-authored patterns miss (API keys, private key blocks, cloud
// credentials, etc).
type Redactor struct {
	patterns []compiledPattern
	detector *detect.Detector
}

// NewRedactor compiles raw into a Redactor. Invalid regexes are logged and
// skipped rather than failing construction, so a bad pattern in config
// never crashes the caller. The gitleaks detector is best-effort:
// if it fails to load its default ruleset, the Redactor still works with
// just the explicit patterns.
func NewRedactor(raw RawRedactionPatterns) *Redactor {
	r := &Redactor{}
	for _, p := range raw.Patterns {
		if strings.HasPrefix(p, "re:") {
			re, err := regexp.Compile(p[3:])
			if err != nil {
				transportLog.Warn("invalid_redaction_regex", slog.String("pattern", p), slog.String("error", err.Error()))
				continue
			}
			r.patterns = append(r.patterns, compiledPattern{re: re})
			continue
		}
		r.patterns = append(r.patterns, compiledPattern{literal: p})
	}

	det, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		transportLog.Warn("gitleaks_detector_unavailable", slog.String("error", err.Error()))
	} else {
		r.detector = det
	}
	return r
}

// Redact returns text with every configured pattern match and every
// gitleaks finding's secret value replaced by a fixed placeholder. It never
// returns an error: a redaction pass that itself fails degrades to
// returning the input unredacted for that pass rather than blocking output
// capture.
func (r *Redactor) Redact(text string) string {
	if r == nil {
		return text
	}

	out := text
	for _, p := range r.patterns {
		if p.re != nil {
			out = p.re.ReplaceAllString(out, redactedPlaceholder)
		} else if p.literal != "" {
			out = strings.ReplaceAll(out, p.literal, redactedPlaceholder)
		}
	}

	if r.detector != nil {
		findings := r.detector.Detect(detect.Fragment{Raw: out})
		for _, f := range findings {
			if f.Secret == "" {
				continue
			}
			out = strings.ReplaceAll(out, f.Secret, redactedPlaceholder)
		}
	}

	return out
}
