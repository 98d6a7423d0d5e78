package segment

import (
	"errors"
	"fmt"
)

// ErrHeaderViolation matches every HeaderError.
var ErrHeaderViolation = errors.New("gzip header violation")

// HeaderError reports a gzip header that does not look like the ones the
// exporting service produces. The export format has changed and the segment
// must not be archived as if nothing happened.
type HeaderError struct {
	URL    string
	Field  string
	Detail string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("segment %s: gzip header %s: %s", e.URL, e.Field, e.Detail)
}

func (e *HeaderError) Is(target error) bool { return target == ErrHeaderViolation }

// FormatError reports a body that is not a single well-formed gzip member.
type FormatError struct {
	URL string
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("segment %s: %v", e.URL, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
