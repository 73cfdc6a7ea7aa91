package utils

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[0-9]{10}$`)
	otpPattern   = regexp.MustCompile(`^[0-9]{6}$`)
)

// NormalizeString trims whitespace and normalizes string input
func NormalizeString(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeEmail normalizes email addresses (lowercase and trim)
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits only, so "(555) 123-4567" becomes "5551234567".
func NormalizePhone(phone string) string {
	cleaned := strings.TrimSpace(phone)
	if cleaned == "" {
		return ""
	}

	var result strings.Builder
	for _, r := range cleaned {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}

	return result.String()
}

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// IsValidPhone expects a normalized, exactly 10 digit number.
func IsValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

func IsValidOTP(code string) bool {
	return otpPattern.MatchString(code)
}

// LengthBetween counts runes, not bytes.
func LengthBetween(s string, min, max int) bool {
	n := utf8.RuneCountInString(s)
	return n >= min && n <= max
}
