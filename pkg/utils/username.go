package utils

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateUsername checks a chat handle: 3-20 characters of letters,
// digits and underscores, starting with a letter or digit.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)

	switch {
	case username == "":
		return &ValidationError{Field: "username", Message: "Username is required"}
	case len(username) < MinUsernameLength:
		return &ValidationError{Field: "username", Message: "Username must be at least 3 characters"}
	case len(username) > MaxUsernameLength:
		return &ValidationError{Field: "username", Message: "Username must be at most 20 characters"}
	case !usernameRegex.MatchString(username):
		return &ValidationError{Field: "username", Message: "Username can only contain letters, numbers, and underscores"}
	case !(unicode.IsLetter(rune(username[0])) || unicode.IsNumber(rune(username[0]))):
		return &ValidationError{Field: "username", Message: "Username must start with a letter or number"}
	}
	return nil
}

// NormalizeUsername folds a username for case-insensitive comparison.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// UsernameContains reports whether query occurs in username, ignoring case.
func UsernameContains(username, query string) bool {
	return strings.Contains(NormalizeUsername(username), NormalizeUsername(query))
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
