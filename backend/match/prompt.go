package match

import (
	_ "embed"
	"fmt"
	"strings"
)

const notProvided = "Not provided"

var (
	//go:embed prompts/compatibility.md
	compatibilityTemplate string
	//go:embed prompts/icebreakers.md
	iceBreakerTemplate string
	//go:embed prompts/bio.md
	bioTemplate string
	//go:embed prompts/moderation.md
	moderationTemplate string
)

const (
	compatibilitySystem = "You are an expert relationship counselor and dating coach. Always answer with a single JSON object."
	iceBreakerSystem    = "You are a dating conversation expert who creates engaging, personalized ice breakers."
	bioSystem           = "You are a creative dating profile expert who writes engaging, authentic bios."
	moderationSystem    = "You are a content moderator for a dating app. Always answer with a single JSON object."
)

// BuildCompatibilityPrompt renders the compatibility request for the pair.
func BuildCompatibilityPrompt(a, b Profile) string {
	return strings.NewReplacer(
		"{{PROFILE_A}}", describe(a),
		"{{PROFILE_B}}", describe(b),
	).Replace(compatibilityTemplate)
}

func buildIceBreakerPrompt(a, b Profile) string {
	shared := strings.Join(sharedInterests(a.Interests, b.Interests), ", ")
	if shared == "" {
		shared = "None obvious"
	}
	return strings.NewReplacer(
		"{{NAME_A}}", orDefault(a.Name, "User"),
		"{{NAME_B}}", orDefault(b.Name, "their match"),
		"{{INTERESTS_A}}", joinOr(a.Interests, "Not specified"),
		"{{INTERESTS_B}}", joinOr(b.Interests, "Not specified"),
		"{{BIO_B}}", orDefault(b.Bio, notProvided),
		"{{SHARED}}", shared,
	).Replace(iceBreakerTemplate)
}

func buildBioPrompt(req BioRequest) string {
	return strings.NewReplacer(
		"{{NAME}}", orDefault(req.Name, "Anonymous"),
		"{{AGE}}", ageText(req.Age),
		"{{GENDER}}", orDefault(req.Gender, notProvided),
		"{{OCCUPATION}}", orDefault(req.Occupation, "Not specified"),
		"{{INTERESTS}}", joinOr(req.Interests, "various activities"),
		"{{TRAITS}}", joinOr(req.Traits, "friendly and open"),
	).Replace(bioTemplate)
}

func buildModerationPrompt(text string) string {
	return strings.ReplaceAll(moderationTemplate, "{{TEXT}}", text)
}

func describe(p Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Name: %s\n", orDefault(p.Name, notProvided))
	fmt.Fprintf(&b, "- Age: %s\n", ageText(p.Age))
	fmt.Fprintf(&b, "- Gender: %s\n", orDefault(p.Gender, notProvided))
	fmt.Fprintf(&b, "- Bio: %s\n", orDefault(p.Bio, notProvided))
	fmt.Fprintf(&b, "- Occupation: %s\n", orDefault(p.Occupation, notProvided))
	fmt.Fprintf(&b, "- Interests: %s\n", joinOr(p.Interests, notProvided))
	fmt.Fprintf(&b, "- Location: %s", orDefault(p.Location, notProvided))
	return b.String()
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func joinOr(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	return strings.Join(items, ", ")
}
