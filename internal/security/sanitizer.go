package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var htmlPolicy = bluemonday.StrictPolicy()

// SanitizeString removes potentially dangerous characters
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	return strings.ReplaceAll(input, "\x00", "")
}

// SanitizeText strips every HTML tag from user text while keeping the literal characters
// (so "a & b" stays "a & b" instead of becoming an entity).
func SanitizeText(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	cleaned := html.UnescapeString(htmlPolicy.Sanitize(input))
	return SanitizeString(cleaned)
}

// RuneLen 按字符（而不是字节）计算长度。
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// ValidateFileType checks if file extension is allowed
func ValidateFileType(filename string, allowedTypes []string) bool {
	filename = strings.ToLower(filename)
	for _, ext := range allowedTypes {
		if strings.HasSuffix(filename, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
