package ai

import "strings"

// ModelFamily identifies the vendor a model name belongs to.
type ModelFamily string

const (
	FamilyDeepSeek  ModelFamily = "deepseek"
	FamilyOpenAI    ModelFamily = "openai"
	FamilyGoogle    ModelFamily = "google"
	FamilyAnthropic ModelFamily = "anthropic"
)

type familyMatcher struct {
	family   ModelFamily
	contains []string
	prefixes []string
}

var familyMatchers = []familyMatcher{
	{family: FamilyDeepSeek, contains: []string{"deepseek"}},
	{family: FamilyOpenAI, contains: []string{"gpt", "openai/"}, prefixes: []string{"o1", "o3", "o4"}},
	{family: FamilyGoogle, contains: []string{"gemini", "gemma"}},
	{family: FamilyAnthropic, contains: []string{"claude"}},
}

func (m familyMatcher) matches(name string) bool {
	for _, tag := range m.contains {
		if strings.Contains(name, tag) {
			return true
		}
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// FamiliesOf returns every family whose tag appears in the model name.
func FamiliesOf(model string) []ModelFamily {
	name := strings.ToLower(strings.TrimSpace(model))
	if name == "" {
		return nil
	}
	var families []ModelFamily
	for _, m := range familyMatchers {
		if m.matches(name) {
			families = append(families, m.family)
		}
	}
	return families
}

// IsForeignModel reports whether model names a different vendor than own.
// Empty and unrecognised names are not foreign.
func IsForeignModel(model string, own ModelFamily) bool {
	families := FamiliesOf(model)
	if len(families) == 0 {
		return false
	}
	for _, f := range families {
		if f == own {
			return false
		}
	}
	return true
}

// ResolveModel picks the model an adapter should send: the requested name
// when it is native or unknown, the adapter default when it is empty or
// belongs to another family.
func ResolveModel(requested string, own ModelFamily, defaultModel string) string {
	model := strings.TrimSpace(requested)
	if model == "" || IsForeignModel(model, own) {
		return defaultModel
	}
	return model
}
