package extractor

import (
	"regexp"
	"strings"
)

var (
	hyphenBreakRegex = regexp.MustCompile(`(\pL)-\n(\pL)`)
	trailingWSRegex  = regexp.MustCompile(`[ \t]+\n`)
	multiSpaceRegex  = regexp.MustCompile(`[ \t]{2,}`)
	multiBlankRegex  = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans extraction artifacts from one raw page: re-joins
// words hyphenated across line breaks, collapses runs of spaces and
// blank lines, and strips trailing whitespace. Pure function.
func Normalize(rawPage string) string {
	s := strings.ReplaceAll(rawPage, "\r\n", "\n")
	s = strings.ReplaceAll(s, "­", "") // soft hyphens
	s = hyphenBreakRegex.ReplaceAllString(s, "$1$2")
	s = trailingWSRegex.ReplaceAllString(s, "\n")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	s = multiBlankRegex.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
