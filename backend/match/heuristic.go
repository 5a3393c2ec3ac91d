package match

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"unicode"
)

const (
	baseScore       = 50
	locationBonus   = 15
	interestPoints  = 5
	maxInterestBump = 20
	keywordPoints   = 2
	maxKeywordBump  = 10
	jitterSpan      = 5
	minKeywordLen   = 4
)

// Jitter returns a small offset added to every heuristic score so that equally
// ranked candidates do not always come back in the same order.
type Jitter func() int

// RandomJitter draws uniformly from [-5, 5].
func RandomJitter() int {
	return rand.IntN(2*jitterSpan+1) - jitterSpan
}

// NoJitter always returns 0.
func NoJitter() int { return 0 }

var stopWords = map[string]struct{}{
	"about": {}, "also": {}, "been": {}, "come": {}, "could": {}, "does": {},
	"from": {}, "have": {}, "here": {}, "into": {}, "just": {}, "like": {},
	"love": {}, "loves": {}, "make": {}, "more": {}, "much": {}, "only": {},
	"other": {}, "over": {}, "really": {}, "some": {}, "someone": {}, "such": {},
	"than": {}, "that": {}, "their": {}, "them": {}, "then": {}, "there": {},
	"these": {}, "they": {}, "thing": {}, "things": {}, "this": {}, "very": {},
	"want": {}, "well": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "while": {}, "will": {}, "with": {}, "would": {}, "your": {},
	"enjoy": {}, "looking": {},
}

// Heuristic scores a against b without any external calls.
func Heuristic(a, b Profile, jitter Jitter) Result {
	if jitter == nil {
		jitter = NoJitter
	}

	score := float64(baseScore)
	var reasons []string

	if a.Age > 0 && b.Age > 0 {
		diff := a.Age - b.Age
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff <= 3:
			score += 10
			reasons = append(reasons, "You're in a similar life stage")
		case diff <= 7:
			score += 5
			reasons = append(reasons, "You're close in age")
		case diff <= 12:
		default:
			score -= 10
		}
	}

	if sameArea(a.Location, b.Location) {
		score += locationBonus
		reasons = append(reasons, "You're both in the same area")
	}

	shared := sharedInterests(a.Interests, b.Interests)
	if len(shared) > 0 {
		score += float64(min(len(shared)*interestPoints, maxInterestBump))
		reasons = append(reasons, "You both enjoy "+strings.Join(shared[:min(2, len(shared))], ", "))
	}

	keywords := sharedKeywords(a.Bio, b.Bio)
	if len(keywords) > 0 {
		score += float64(min(len(keywords)*keywordPoints, maxKeywordBump))
		reasons = append(reasons, "Your bios both mention "+strings.Join(keywords[:min(2, len(keywords))], " and "))
	}

	score += float64(jitter())

	if len(reasons) == 0 {
		reasons = append(reasons, "You might discover something new together")
	}

	return Result{
		Score:       clampScore(score),
		Reasons:     truncate(reasons, maxListItems),
		IceBreakers: FallbackIceBreakers(a, b),
		Source:      SourceHeuristic,
	}
}

// FallbackIceBreakers builds openers for a to send to b from templates.
func FallbackIceBreakers(a, b Profile) []string {
	name := strings.TrimSpace(b.Name)
	if name == "" {
		name = "there"
	}
	if shared := sharedInterests(a.Interests, b.Interests); len(shared) > 0 {
		interest := shared[0]
		return []string{
			fmt.Sprintf("Hey %s! I noticed we both love %s. What got you into it?", name, interest),
			fmt.Sprintf("Hi! I see you're into %s too. Have any recommendations?", interest),
			fmt.Sprintf("Hey! Fellow %s enthusiast here. What's your favorite thing about it?", interest),
		}
	}
	return []string{
		fmt.Sprintf("Hey %s! Your profile caught my attention. How's your week going?", name),
		fmt.Sprintf("Hi %s! I'd love to get to know you better. What do you like to do for fun?", name),
		"Hey! I thought we might click. Tell me something interesting about yourself!",
	}
}

func sameArea(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// sharedInterests compares case-insensitively and returns a's spelling, sorted.
func sharedInterests(a, b []string) []string {
	theirs := make(map[string]struct{}, len(b))
	for _, it := range b {
		if k := strings.ToLower(strings.TrimSpace(it)); k != "" {
			theirs[k] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, it := range a {
		it = strings.TrimSpace(it)
		k := strings.ToLower(it)
		if _, ok := theirs[k]; !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func bioKeywords(bio string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(bio), func(r rune) bool { return !unicode.IsLetter(r) })
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len([]rune(w)) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func sharedKeywords(a, b string) []string {
	ka, kb := bioKeywords(a), bioKeywords(b)
	var out []string
	for w := range ka {
		if _, ok := kb[w]; ok {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}
