package util

import (
	"strings"
	"unicode/utf8"
)

const maxErrorLen = 500

// SanitizeError flattens an error message to one line of at most 500 bytes
// without splitting a UTF-8 sequence.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeText(err.Error())
}

// SanitizeText applies the SanitizeError rules to free text.
func SanitizeText(msg string) string {
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.TrimSpace(msg)
	if len(msg) <= maxErrorLen {
		return msg
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
