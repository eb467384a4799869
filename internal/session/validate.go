package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.convo/sessions, so they are
// restricted to a filesystem-safe alphabet.
var validName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects session names that cannot safely name a session
// directory.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 of a-z, 0-9, _ or -", name)
	}
	return nil
}
