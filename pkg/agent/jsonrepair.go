package agent

import (
	"regexp"
	"strings"
)

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
)

// RepairJSON applies forgiving fixes to model-produced JSON: markdown
// fences are stripped, the outermost object is extracted, trailing commas
// are dropped and raw control characters are removed. It does not check
// that the result parses.
func RepairJSON(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return stripControl(s)
}

// stripControl removes control characters other than whitespace that
// JSON permits between tokens. Newlines inside strings become spaces.
func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case r < 0x20:
			if inString {
				if r == '\n' || r == '\t' || r == '\r' {
					b.WriteRune(' ')
				}
				continue
			}
			if r != '\n' && r != '\t' && r != '\r' {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
