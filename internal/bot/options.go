package bot

import "strings"

// Enumerated signup vocabularies. Order matters: extraction returns the first
// option found as a substring of the message.
var (
	Areas = []string{
		"northern quarter",
		"city centre",
		"deansgate",
		"ancoats",
		"spinningfields",
	}

	GroupTypes = []string{
		"mixed",
		"males only",
		"females only",
	}

	Genders = []string{
		"male",
		"female",
		"prefer not to say",
	}

	AgeRanges = []string{
		"18-25",
		"26-35",
		"36-45",
		"46+",
	}
)

// extractOption returns the first option appearing as a case-insensitive
// substring of the message.
func extractOption(message string, options []string) (string, bool) {
	lower := strings.ToLower(message)
	for _, opt := range options {
		if strings.Contains(lower, opt) {
			return opt, true
		}
	}
	return "", false
}

// ExtractArea parses an area choice out of free text.
func ExtractArea(message string) (string, bool) {
	return extractOption(message, Areas)
}

// ExtractGroupType parses a group type choice out of free text.
// "males only" precedes "females only" in the vocabulary, but substring
// matching alone would classify "females only" as "males only"; guard the
// prefix explicitly.
func ExtractGroupType(message string) (string, bool) {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "females only") {
		return "females only", true
	}
	return extractOption(message, GroupTypes)
}

// ExtractGender parses a gender choice out of free text. "female" contains
// "male", so check the longer option first.
func ExtractGender(message string) (string, bool) {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "prefer not to say") {
		return "prefer not to say", true
	}
	if strings.Contains(lower, "female") {
		return "female", true
	}
	if strings.Contains(lower, "male") {
		return "male", true
	}
	return "", false
}

// ExtractAgeRange parses an age range out of free text. Ranges are matched
// verbatim, case does not apply.
func ExtractAgeRange(message string) (string, bool) {
	for _, r := range AgeRanges {
		if strings.Contains(message, r) {
			return r, true
		}
	}
	return "", false
}

// signup trigger keywords checked against the lowercased message.
var signupKeywords = []string{"beer", "crawl", "join", "sign up", "signup"}

// WantsSignup reports whether the message should start the signup flow.
func WantsSignup(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range signupKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsConfirmation reports whether the message confirms group participation.
func IsConfirmation(message string) bool {
	return strings.Contains(strings.ToLower(message), "yes")
}

// WantsAlternative reports whether the user asked for a different group.
func WantsAlternative(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "don't like this group") ||
		strings.Contains(lower, "find another")
}

// WantsHelp reports whether the user asked for help.
func WantsHelp(message string) bool {
	return strings.Contains(strings.ToLower(message), "help")
}

// FormatOptions renders a vocabulary as a bulleted list for prompts.
func FormatOptions(prefix string, options []string) string {
	var b strings.Builder
	for i, opt := range options {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(prefix)
		b.WriteString(titleCase(opt))
	}
	return b.String()
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		// Age ranges and the like stay as-is.
		if w[0] >= 'a' && w[0] <= 'z' {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
