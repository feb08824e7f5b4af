package endpoint

import "fmt"

// EncodeError is returned when identifiers cannot be serialized
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode request: %v", e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a response payload is structurally invalid
type DecodeError struct {
	Err     error
	Snippet string // leading bytes of the offending payload
}

func (e *DecodeError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("decode response: %v", e.Err)
	}
	return fmt.Sprintf("decode response: %v (payload %q)", e.Err, e.Snippet)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ElementDecodeError describes a single identifier whose result could not be parsed
type ElementDecodeError struct {
	ID  string
	Err error
}

func (e *ElementDecodeError) Error() string {
	return fmt.Sprintf("decode result for %q: %v", e.ID, e.Err)
}

func (e *ElementDecodeError) Unwrap() error {
	return e.Err
}

// RemoteError is a top-level error reported by the service in place of results
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

const snippetLen = 120

func snippet(body []byte) string {
	if len(body) > snippetLen {
		return string(body[:snippetLen]) + "..."
	}
	return string(body)
}
