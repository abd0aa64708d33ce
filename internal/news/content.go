package news

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// boilerplatePhrases mark filler announcements with no analyzable content.
var boilerplatePhrases = []string{
	"this is automatically generated document",
	"for more information contact",
}

// CleanContent unescapes HTML entities and strips all tag markup.
func CleanContent(raw string) string {
	return tagPattern.ReplaceAllString(html.UnescapeString(raw), "")
}

func IsBoilerplate(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range boilerplatePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isPDF(fileName string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(fileName)), ".pdf")
}
