// Package prompt splits a natural-language prompt into the two text channels used by
// dual-encoder model families: a full-detail channel (T5 style encoders) and a short
// style/keyword channel (CLIP style encoders).
package prompt

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

type match struct {
	start, end int
	text       string
}

type term struct {
	phrase string
	words  int
	re     *regexp.Regexp
}

// compiled vocabulary, multi-word phrases first so that "digital art" is claimed
// before "digital" or "art"
var terms = compileTerms(styleVocabulary)

func compileTerms(vocab []string) []term {
	retv := make([]term, 0, len(vocab))
	seen := make(map[string]bool)
	for _, v := range vocab {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		words := strings.Fields(key)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		re := regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(` + strings.Join(words, `[\s\-]+`) + `)(?:$|[^\p{L}\p{N}])`)
		retv = append(retv, term{phrase: key, words: len(words), re: re})
	}
	sort.SliceStable(retv, func(i, j int) bool {
		if retv[i].words != retv[j].words {
			return retv[i].words > retv[j].words
		}
		return len(retv[i].phrase) > len(retv[j].phrase)
	})
	return retv
}

// Split returns the full-channel prompt (always the input unchanged) and the
// style-channel prompt. The style channel is empty only when the input is empty.
func Split(text string) (string, string) {
	if text == "" {
		return "", ""
	}

	if style := styleTerms(text); len(style) > 0 {
		return text, strings.Join(style, ", ")
	}
	if adjectives := adjectiveTokens(text); len(adjectives) > 0 {
		return text, strings.Join(adjectives, ", ")
	}
	return text, text
}

// styleTerms finds vocabulary terms in order of appearance, keeping the input's
// casing and dropping case-insensitive duplicates.
func styleTerms(text string) []string {
	claimed := make([]match, 0)
	overlaps := func(start, end int) bool {
		for _, c := range claimed {
			if start < c.end && c.start < end {
				return true
			}
		}
		return false
	}

	for _, t := range terms {
		for _, loc := range findAll(t.re, text) {
			if overlaps(loc[0], loc[1]) {
				continue
			}
			claimed = append(claimed, match{start: loc[0], end: loc[1], text: text[loc[0]:loc[1]]})
		}
	}
	if len(claimed) == 0 {
		return nil
	}

	sort.Slice(claimed, func(i, j int) bool { return claimed[i].start < claimed[j].start })
	return dedupe(claimed)
}

// findAll returns the submatch ranges of a term. The boundary characters around a
// term are consumed by the expression, so the scan restarts right after each
// term to allow adjacent matches separated by a single character.
func findAll(re *regexp.Regexp, text string) [][2]int {
	retv := make([][2]int, 0)
	offset := 0
	for offset < len(text) {
		loc := re.FindStringSubmatchIndex(text[offset:])
		if loc == nil {
			break
		}
		start, end := offset+loc[2], offset+loc[3]
		retv = append(retv, [2]int{start, end})
		offset = end
	}
	return retv
}

var adjectiveSuffixes = []string{
	"ful", "ous", "ive", "able", "ible", "ical", "ic", "ish", "less", "ant", "ent", "esque", "ary", "ly",
}

var segmentSplitter = regexp.MustCompile(`[,.;:!?\n]+`)

// adjectiveTokens is the fallback when no vocabulary term is present: tokens that
// look like adjectives or adverbs by their suffix.
func adjectiveTokens(text string) []string {
	found := make([]match, 0)
	pos := 0
	for _, segment := range segmentSplitter.Split(text, -1) {
		for _, raw := range strings.Fields(segment) {
			token := strings.TrimFunc(raw, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsNumber(r)
			})
			if len([]rune(token)) < 4 {
				continue
			}
			lower := strings.ToLower(token)
			for _, suffix := range adjectiveSuffixes {
				if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix)+1 {
					found = append(found, match{start: pos, text: token})
					pos++
					break
				}
			}
		}
	}
	return dedupe(found)
}

func dedupe(matches []match) []string {
	seen := make(map[string]bool, len(matches))
	retv := make([]string, 0, len(matches))
	for _, m := range matches {
		key := strings.ToLower(m.text)
		if seen[key] {
			continue
		}
		seen[key] = true
		retv = append(retv, m.text)
	}
	return retv
}
