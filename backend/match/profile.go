// Package match scores how well two dating profiles fit together.
//
// Scores come from an LLM when one is configured and from a local heuristic
// otherwise, or whenever the LLM call or its response is unusable.
package match

import (
	"strconv"
	"time"
)

// Profile is the subset of a dating profile the scorers look at.
type Profile struct {
	UserID     int
	Name       string
	Age        int // 0 when unknown
	Gender     string
	Bio        string
	Occupation string
	Location   string
	Interests  []string

	// Version changes whenever the profile is edited. It is part of the cache key.
	Version int64
}

// Source tells where a Result came from.
type Source string

const (
	SourceHeuristic Source = "heuristic"
	SourceLLM       Source = "llm"
	SourceCache     Source = "cache"
)

// Result is a compatibility verdict for an ordered pair of profiles.
type Result struct {
	Score       float64  `json:"score"`
	Reasons     []string `json:"reasons"`
	IceBreakers []string `json:"ice_breakers"`
	Source      Source   `json:"source"`
}

const maxListItems = 3

// AgeAt returns the age in whole years of someone born on dob at the instant now.
func AgeAt(dob, now time.Time) int {
	if dob.IsZero() || now.Before(dob) {
		return 0
	}
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

func ageText(age int) string {
	if age <= 0 {
		return notProvided
	}
	return strconv.Itoa(age)
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}

func truncate(items []string, n int) []string {
	out := make([]string, 0, n)
	for _, it := range items {
		if len(out) == n {
			break
		}
		if it == "" {
			continue
		}
		out = append(out, it)
	}
	return out
}
