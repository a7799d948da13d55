package reconcile

import (
	"fmt"
	"regexp"
	"strings"
)

var commitSHAPattern = regexp.MustCompile(`^[0-9a-f]{40}$|^[0-9a-f]{64}$`)

// CommitSHA is a validated, lowercase hex Git commit identifier (SHA-1 or
// SHA-256 length).
type CommitSHA struct {
	value string
}

// NewCommitSHA validates s and case-normalizes it to lowercase.
func NewCommitSHA(s string) (CommitSHA, error) {
	norm := strings.ToLower(s)
	if !commitSHAPattern.MatchString(norm) {
		return CommitSHA{}, fmt.Errorf("reconcile: invalid commit sha %q", s)
	}
	return CommitSHA{value: norm}, nil
}

// String returns the full lowercase hex SHA.
func (c CommitSHA) String() string {
	return c.value
}

// Short returns the first 7 characters, the conventional short form.
func (c CommitSHA) Short() string {
	if len(c.value) < 7 {
		return c.value
	}
	return c.value[:7]
}

// IsZero reports whether c is the zero value (no SHA set).
func (c CommitSHA) IsZero() bool {
	return c.value == ""
}

// Equal compares two CommitSHA values.
func (c CommitSHA) Equal(other CommitSHA) bool {
	return c.value == other.value
}
