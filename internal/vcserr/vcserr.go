package vcserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can react to the category
// without parsing message text.
type Kind string

const (
	KindFileNotFound       Kind = "FILE_NOT_FOUND"
	KindNotFound           Kind = "NOT_FOUND"
	KindUnknownCommit      Kind = "UNKNOWN_COMMIT"
	KindNothingToCommit    Kind = "NOTHING_TO_COMMIT"
	KindAlreadyInitialized Kind = "ALREADY_INITIALIZED"
	KindNotInitialized     Kind = "NOT_INITIALIZED"
	KindInvalidArchive     Kind = "INVALID_ARCHIVE"
	KindIO                 Kind = "IO_ERROR"
)

// Error is the typed error every core operation returns. Err carries
// the underlying cause when there is one.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func FileNotFound(path string) *Error {
	return &Error{Kind: KindFileNotFound, Message: fmt.Sprintf("file not found: %s", path)}
}

func NotFound(digest string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("object not found: %s", digest)}
}

func UnknownCommit(id int) *Error {
	return &Error{Kind: KindUnknownCommit, Message: fmt.Sprintf("unknown commit: %d", id)}
}

func NothingToCommit() *Error {
	return &Error{Kind: KindNothingToCommit, Message: "nothing to commit"}
}

func AlreadyInitialized(dir string) *Error {
	return &Error{Kind: KindAlreadyInitialized, Message: fmt.Sprintf("repository already exists at %s", dir)}
}

func NotInitialized(dir string) *Error {
	return &Error{Kind: KindNotInitialized, Message: fmt.Sprintf("not a repository: %s", dir)}
}

func InvalidArchive(message string, err error) *Error {
	return &Error{Kind: KindInvalidArchive, Message: message, Err: err}
}

func IO(message string, err error) *Error {
	return &Error{Kind: KindIO, Message: message, Err: err}
}

// KindOf returns the Kind of err, unwrapping as needed, or "" when the
// error did not originate here.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
