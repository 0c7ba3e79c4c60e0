package content

import (
	"errors"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy        = bluemonday.StrictPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	mentionRegex  = regexp.MustCompile(`(^|\s)@([a-zA-Z0-9._-]+)`)
)

// Sanitize strips all HTML from the input string. Message bodies and
// display names pass through here before persistence.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// ExtractMentions returns the unique usernames referenced as @username
// tokens in a message body, in order of first appearance.
func ExtractMentions(body string) []string {
	matches := mentionRegex.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var usernames []string
	for _, m := range matches {
		name := m[2]
		if seen[name] {
			continue
		}
		seen[name] = true
		usernames = append(usernames, name)
	}
	return usernames
}

// NormalizeRoomID reduces a room identifier to its canonical string form
// so that values arriving in different representations of the same
// identifier compare equal. Every boundary (ingest, storage, broadcast,
// client comparison) normalizes before comparing.
func NormalizeRoomID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.Trim(id, `"`)
	return strings.ToLower(id)
}

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}
