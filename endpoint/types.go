// Package endpoint defines the bulk protocol spoken with a batch POST
// endpoint: a list of identifiers goes out, a mapping of identifier to
// result comes back.
//
// Any service with that shape can be used by implementing Adapter. JSON
// covers the common case where identifiers are sent as a JSON array inside
// a request object and results come back either as an object keyed by
// identifier or as an array of objects that name their identifier.
package endpoint

// Adapter encodes identifiers into a request body and decodes a response
// body into per-identifier results
type Adapter[T any] interface {
	// Path is appended to the service base URL, e.g. "/vep/human/hgvs"
	Path() string
	// MaxBatchSize is the largest number of identifiers the endpoint accepts
	MaxBatchSize() int
	// Encode builds the POST body for the given identifiers
	Encode(ids []string) ([]byte, error)
	// Decode parses the POST response. It fails only when the payload as a
	// whole cannot be used; single bad elements land in Response.Failed.
	Decode(body []byte) (*Response[T], error)
}

// Validator can be implemented by result types to reject elements that
// unmarshal cleanly but are not usable
type Validator interface {
	Validate() error
}

// Response is a decoded bulk response
type Response[T any] struct {
	Results map[string]T     // identifier -> decoded result
	Failed  map[string]error // identifier -> element decode error
	// Unmatched counts array elements that did not name an identifier
	Unmatched int
}

// NewResponse creates an empty response
func NewResponse[T any](capacity int) *Response[T] {
	return &Response[T]{
		Results: make(map[string]T, capacity),
		Failed:  make(map[string]error),
	}
}

// Lookup returns the result for id and whether it is present
func (r *Response[T]) Lookup(id string) (T, bool) {
	v, ok := r.Results[id]
	return v, ok
}
