package utils

import (
	"strings"
	"unicode/utf8"
)

// TruncateString 按 rune 截断，用于日志里的文本预览
func TruncateString(s string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string([]rune(s)[:maxLength])
	}
	return string([]rune(s)[:maxLength-3]) + "..."
}

// NormalizeText collapses runs of whitespace, including newlines, to single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
