// Package temporal extracts relative time windows from free-text search
// queries, leaving behind the residual visual description.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// TimeRange is a closed window in milliseconds since epoch.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Result is the outcome of parsing one query: the extracted window, if
// any, and the residual visual query to embed.
type Result struct {
	TimeRange   *TimeRange
	VisualQuery string
}

// Relative-time patterns in priority order. Only the first match is
// applied; patterns are not cumulative.
var relativePatterns = []struct {
	re     *regexp.Regexp
	unit   time.Duration
	window time.Duration
}{
	{regexp.MustCompile(`(?i)(\d+)\s*(?:seconds|second|secs|sec)\s*ago`), time.Second, 5 * time.Second},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:minutes|minute|mins|min)\s*ago`), time.Minute, 30 * time.Second},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:hours|hour|hrs|hr)\s*ago`), time.Hour, 15 * time.Minute},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:days|day)\s*ago`), 24 * time.Hour, time.Hour},
}

var (
	anyTimePhrase = regexp.MustCompile(`(?i)(\d+)\s*(?:seconds|second|secs|sec|minutes|minute|mins|min|hours|hour|hrs|hr|days|day)\s*ago`)
	fillerWords   = regexp.MustCompile(`(?i)\b(occurred|happening|happened)\b`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// Parser turns relative-time phrases into time windows. The four exact
// "<N> <unit> ago" patterns are matched first; anything they miss falls
// through to a natural-language pass ("yesterday", "last friday") with a
// day-granularity window.
type Parser struct {
	nl *when.Parser
}

func NewParser() *Parser {
	nl := when.New(nil)
	nl.Add(en.All...)
	nl.Add(common.All...)
	return &Parser{nl: nl}
}

// Parse extracts a time window from query relative to now.
func (p *Parser) Parse(query string, now time.Time) Result {
	for _, pat := range relativePatterns {
		m := pat.re.FindStringSubmatch(query)
		if m == nil {
			continue
		}

		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		target := now.Add(-time.Duration(n) * pat.unit)
		tr := &TimeRange{
			Start: target.Add(-pat.window).UnixMilli(),
			End:   target.Add(pat.window).UnixMilli(),
		}

		return Result{
			TimeRange:   tr,
			VisualQuery: residualQuery(query, pat.re),
		}
	}

	if res, err := p.nl.Parse(query, now); err == nil && res != nil {
		start := time.Date(res.Time.Year(), res.Time.Month(), res.Time.Day(), 0, 0, 0, 0, res.Time.Location())
		end := start.AddDate(0, 0, 1).Add(-time.Second)
		tr := &TimeRange{Start: start.UnixMilli(), End: end.UnixMilli()}

		stripped := strings.TrimSpace(query[:res.Index] + query[res.Index+len(res.Text):])
		visual := tidy(fillerWords.ReplaceAllString(stripped, ""))
		if len(visual) < 3 {
			visual = tidy(stripped)
		}
		if visual == "" {
			visual = query
		}
		return Result{TimeRange: tr, VisualQuery: visual}
	}

	return Result{VisualQuery: residualQuery(query, nil)}
}

// residualQuery strips the matched time phrase and common filler words.
// If that leaves fewer than 3 characters, it retries stripping only the
// time phrase, and finally falls back to the original query so a purely
// temporal query never collapses to an empty visual query.
func residualQuery(query string, matched *regexp.Regexp) string {
	cleaned := query
	if matched != nil {
		cleaned = matched.ReplaceAllString(cleaned, "")
	}
	cleaned = tidy(fillerWords.ReplaceAllString(cleaned, ""))

	if len(cleaned) < 3 {
		cleaned = tidy(anyTimePhrase.ReplaceAllString(query, ""))
	}
	if cleaned == "" {
		return query
	}
	return cleaned
}

func tidy(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
