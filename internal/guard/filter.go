// Package guard defends the LLM boundary: it scores user queries for prompt
// injection before any model sees them, and validates model output for
// secret or prompt leakage before any user sees it.
package guard

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrEmptyQuery indicates an empty or whitespace-only query.
	ErrEmptyQuery = errors.New("guard: empty query")
	// ErrBlocked indicates the aggregate risk crossed the block threshold.
	ErrBlocked = errors.New("guard: query blocked")
)

// Risk weights and the block threshold. A single pattern plus one auxiliary
// signal is enough to block.
const (
	patternRisk      = 20
	fuzzyRisk        = 10
	specialCharRisk  = 15
	encodedBlobRisk  = 10
	BlockThreshold   = 30
	maxQueryLength   = 2000
	specialCharRatio = 0.3
	minBase64Run     = 40
)

const filteredPlaceholder = "[FILTERED]"

// injectionPatterns each add patternRisk when matched. Compiled once;
// immutable after init.
var injectionPatterns = []*regexp.Regexp{
	// Instruction override
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(everything|all|your)\s+(instructions?|rules?|training)?`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	// Role manipulation
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)?`),
	regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`),
	regexp.MustCompile(`(?i)act\s+as\s+(if|a|an|the)`),
	regexp.MustCompile(`(?i)roleplay\s+as`),
	// System prompt extraction
	regexp.MustCompile(`(?i)(show|reveal|print|repeat|output)\s+(me\s+)?(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)what\s+(is|are)\s+your\s+(system\s+)?(prompt|instructions?)`),
	// Jailbreak aliases
	regexp.MustCompile(`(?i)\bDAN\s+mode\b`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)developer\s+mode`),
	regexp.MustCompile(`(?i)without\s+(any\s+)?(restrictions?|limitations?|filters?)`),
}

// sensitiveWords feed the scrambled-token detector.
var sensitiveWords = []string{
	"ignore", "disregard", "system", "prompt", "instructions",
	"override", "jailbreak", "pretend", "bypass", "admin",
}

var base64RunRe = regexp.MustCompile(`[A-Za-z0-9+/=]{` + "40" + `,}`)

// Result is the outcome of inspecting one query.
type Result struct {
	Risk      int
	Blocked   bool
	Sanitized string
	// Signals names the checks that fired, for the security log.
	Signals []string
}

// Filter scores and sanitizes user queries. Stateless; safe for concurrent
// use.
type Filter struct{}

// NewFilter returns the filter.
func NewFilter() *Filter { return &Filter{} }

// Inspect computes the risk score and sanitized text. An empty or
// whitespace-only query is a validation error. A blocked query returns
// ErrBlocked alongside the populated Result so callers can log the signals.
func (f *Filter) Inspect(query string) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, ErrEmptyQuery
	}

	var res Result
	sanitized := query

	for _, re := range injectionPatterns {
		if re.MatchString(sanitized) {
			res.Risk += patternRisk
			res.Signals = append(res.Signals, "pattern:"+re.String())
			sanitized = re.ReplaceAllString(sanitized, filteredPlaceholder)
		}
	}

	if scrambled := findScrambledTokens(query); len(scrambled) > 0 {
		res.Risk += fuzzyRisk
		res.Signals = append(res.Signals, "scrambled:"+strings.Join(scrambled, ","))
	}

	if ratio := specialRatio(query); ratio > specialCharRatio {
		res.Risk += specialCharRisk
		res.Signals = append(res.Signals, "special_chars")
	}

	if base64RunRe.MatchString(query) {
		res.Risk += encodedBlobRisk
		res.Signals = append(res.Signals, "encoded_blob")
	}

	res.Sanitized = normalize(sanitized)
	res.Blocked = res.Risk >= BlockThreshold
	if res.Blocked {
		return res, ErrBlocked
	}
	return res, nil
}

// findScrambledTokens flags tokens that are letter-scrambles of sensitive
// words: same length >= 4, same first and last characters, same multiset of
// interior letters. Typoglycemia evasion ("ignroe the systme prompt").
func findScrambledTokens(query string) []string {
	var found []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.TrimFunc(tok, func(r rune) bool { return !unicode.IsLetter(r) })
		if len(tok) < 4 {
			continue
		}
		for _, word := range sensitiveWords {
			if tok == word {
				continue // exact matches belong to the pattern table
			}
			if len(tok) != len(word) || tok[0] != word[0] || tok[len(tok)-1] != word[len(word)-1] {
				continue
			}
			if sortedInterior(tok) == sortedInterior(word) {
				found = append(found, tok)
				break
			}
		}
	}
	return found
}

func sortedInterior(s string) string {
	if len(s) <= 2 {
		return ""
	}
	interior := []byte(s[1 : len(s)-1])
	sort.Slice(interior, func(i, j int) bool { return interior[i] < interior[j] })
	return string(interior)
}

// specialRatio is the share of non-alphanumeric, non-space runes.
func specialRatio(s string) float64 {
	if s == "" {
		return 0
	}
	var special, total int
	for _, r := range s {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	return float64(special) / float64(total)
}

// normalize strips control characters, collapses whitespace, and truncates.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	if len(out) > maxQueryLength {
		// Truncate on a rune boundary so a multi-byte character is never
		// split into invalid UTF-8.
		cut := maxQueryLength
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}
