package frame

import "errors"

// Kind classifies a reply stream failure.
type Kind int

// Failure kinds. Any of them ends the reply being read.
const (
	KindTransport        Kind = iota + 1 // network or HTTP failure, cancellation
	KindMalformed                        // undecodable bytes or invalid JSON
	KindUnexpectedFormat                 // valid JSON that is not a frame
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport error"
	case KindMalformed:
		return "malformed frame"
	case KindUnexpectedFormat:
		return "unexpected format"
	default:
		return "unknown error"
	}
}

// Error is a typed reply stream failure.
// Use the IsXxx helpers below to classify errors without inspecting fields.
type Error struct {
	Kind    Kind
	Message string
	Err     error // may be nil
}

// NewError creates a typed stream error.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels, so errors.Is(err, ErrMalformed) works on any malformed frame error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for use with errors.Is.
var (
	ErrTransport        = &Error{Kind: KindTransport}
	ErrMalformed        = &Error{Kind: KindMalformed}
	ErrUnexpectedFormat = &Error{Kind: KindUnexpectedFormat}
)

// ErrAssembled is returned by a second call to Assembler.Updates. It is a usage error, not a
// stream failure, so KindOf reports 0 for it.
var ErrAssembled = errors.New("frame: reply already assembled")

// KindOf returns the Kind of err, or 0 when err is not a stream error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}

// IsMalformed reports whether err is a malformed frame.
func IsMalformed(err error) bool {
	return KindOf(err) == KindMalformed
}

// IsUnexpectedFormat reports whether err is a well-formed payload that is not a frame.
func IsUnexpectedFormat(err error) bool {
	return KindOf(err) == KindUnexpectedFormat
}

// asTransport keeps typed errors as they are and classifies everything else as transport.
func asTransport(message string, err error) error {
	if KindOf(err) != 0 {
		return err
	}
	return NewError(KindTransport, message, err)
}
