package endpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxBatchSize is used when a JSON adapter does not set MaxBatch
const DefaultMaxBatchSize = 50

var (
	errEmptyPayload = errors.New("empty payload")
	errNotContainer = errors.New("payload is neither an object nor an array")
	errNoIDField    = errors.New("array response but no identifier field configured")
)

// JSON is a generic adapter for JSON bulk endpoints.
//
// The request body is Params with the identifier list stored under IDsKey:
//
//	{"hgvs": 1, "canonical": 1, "hgvs_notations": ["X1", "X2"]}
//
// The response body may be an object keyed by identifier, where null means
// no result, or an array of objects each naming its identifier in IDField.
type JSON[T any] struct {
	Endpoint string         // URL path
	IDsKey   string         // request field holding the identifier list
	Params   map[string]any // extra request fields
	IDField  string         // response element field naming the identifier
	MaxBatch int
}

// Path implements Adapter
func (j *JSON[T]) Path() string {
	return j.Endpoint
}

// MaxBatchSize implements Adapter
func (j *JSON[T]) MaxBatchSize() int {
	if j.MaxBatch <= 0 {
		return DefaultMaxBatchSize
	}
	return j.MaxBatch
}

// Encode implements Adapter
func (j *JSON[T]) Encode(ids []string) ([]byte, error) {
	if j.IDsKey == "" {
		return nil, &EncodeError{Err: errors.New("no identifier key configured")}
	}

	payload := make(map[string]any, len(j.Params)+1)
	for k, v := range j.Params {
		payload[k] = v
	}
	if ids == nil {
		ids = []string{}
	}
	payload[j.IDsKey] = ids

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}
	return body, nil
}

// Decode implements Adapter
func (j *JSON[T]) Decode(body []byte) (*Response[T], error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Err: errEmptyPayload}
	}

	switch trimmed[0] {
	case '{':
		return j.decodeObject(trimmed)
	case '[':
		return j.decodeArray(trimmed)
	default:
		return nil, &DecodeError{Err: errNotContainer, Snippet: snippet(trimmed)}
	}
}

// decodeObject handles {"id": {...}, "id2": null}
func (j *JSON[T]) decodeObject(body []byte) (*Response[T], error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &DecodeError{Err: err, Snippet: snippet(body)}
	}

	if msg, ok := topLevelError(raw); ok {
		return nil, &RemoteError{Message: msg}
	}

	resp := NewResponse[T](len(raw))
	for id, elem := range raw {
		decodeElement(resp, id, elem)
	}
	return resp, nil
}

// decodeArray handles [{"input": "id", ...}, ...]
func (j *JSON[T]) decodeArray(body []byte) (*Response[T], error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &DecodeError{Err: err, Snippet: snippet(body)}
	}
	if len(raw) > 0 && j.IDField == "" {
		return nil, &DecodeError{Err: errNoIDField}
	}

	resp := NewResponse[T](len(raw))
	for _, elem := range raw {
		if isNull(elem) {
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(elem, &fields); err != nil {
			resp.Unmatched++
			continue
		}
		var id string
		if err := json.Unmarshal(fields[j.IDField], &id); err != nil || id == "" {
			resp.Unmatched++
			continue
		}

		// The service reports per-identifier failures as {"input": ..., "error": ...}
		if msg, ok := errorField(fields); ok {
			resp.Failed[id] = &ElementDecodeError{ID: id, Err: &RemoteError{Message: msg}}
			continue
		}

		decodeElement(resp, id, elem)
	}
	return resp, nil
}

func decodeElement[T any](resp *Response[T], id string, elem json.RawMessage) {
	if isNull(elem) {
		return
	}

	var v T
	if err := json.Unmarshal(elem, &v); err != nil {
		resp.Failed[id] = &ElementDecodeError{ID: id, Err: err}
		return
	}
	if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			resp.Failed[id] = &ElementDecodeError{ID: id, Err: err}
			return
		}
	}
	resp.Results[id] = v
}

// topLevelError recognises {"error": "message"}
func topLevelError(raw map[string]json.RawMessage) (string, bool) {
	if len(raw) != 1 {
		return "", false
	}
	return errorField(raw)
}

func errorField(fields map[string]json.RawMessage) (string, bool) {
	v, ok := fields["error"]
	if !ok {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(v, &msg); err != nil {
		return "", false
	}
	return msg, true
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// String is used in log fields
func (j *JSON[T]) String() string {
	return fmt.Sprintf("json[%s]", j.Endpoint)
}
