package errors

import stderr "errors"

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

var (
	// NoMessageOnWireError reports that the request is missing a message.
	NoMessageOnWireError = New("no message on wire")
	// SessionClosedError reports that an operation was attempted on a torn down session.
	SessionClosedError = New("session is closed")
)
