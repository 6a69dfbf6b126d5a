package ocr

import (
	"regexp"
	"strings"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reFenceOpen  = regexp.MustCompile("^```[a-zA-Z0-9_-]*\n")
	reFenceClose = regexp.MustCompile("\n?```$")
)

// Normalize cleans engine output: line endings, runs of blanks, trailing
// spaces and a markdown code fence wrapped around the whole text. Line breaks
// are kept so table layouts survive.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = stripCodeFence(strings.TrimSpace(s))
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// vision models like to answer inside ```text ... ```
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := reFenceOpen.ReplaceAllString(s, "")
	if inner == s {
		return s
	}
	return reFenceClose.ReplaceAllString(inner, "")
}
