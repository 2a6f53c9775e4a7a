// Package message defines the request/response envelopes exchanged between a caller
// and a responder over a port.
//
// Envelopes travel as plain arrays so they can share a port with unrelated traffic:
//
//	request:           [id, payload]
//	response success:  [id, nil, result]
//	response failure:  [id, err]
//
// The decoders below are the type-guards: anything that is not an array of the right
// length with a numeric first element is reported as "not ours" and ignored by callers.
package message

import (
	"encoding/json"
	"math"
	"reflect"
)

// Request carries a caller's payload tagged with its correlation ID.
type Request struct {
	ID      uint64
	Payload any
}

// Response carries either an error (Err is truthy) or a result for the request
// with the same ID.
type Response struct {
	ID     uint64
	Err    any
	Result any
}

// NewSuccess builds a success response for id.
func NewSuccess(id uint64, result any) Response {
	return Response{ID: id, Result: result}
}

// NewFailure builds a failure response for id.
func NewFailure(id uint64, err any) Response {
	return Response{ID: id, Err: err}
}

// Encode returns the wire shape [id, payload].
func (r Request) Encode() []any {
	return []any{r.ID, r.Payload}
}

// Failed reports whether the response signals a failure.
func (r Response) Failed() bool {
	return Truthy(r.Err)
}

// Encode returns the wire shape: [id, err] on failure, [id, nil, result] on success.
func (r Response) Encode() []any {
	if r.Failed() {
		return []any{r.ID, r.Err}
	}
	return []any{r.ID, nil, r.Result}
}

// DecodeRequest validates msg as a request envelope.
func DecodeRequest(msg any) (Request, bool) {
	arr, ok := msg.([]any)
	if !ok || len(arr) != 2 {
		return Request{}, false
	}
	id, ok := decodeID(arr[0])
	if !ok {
		return Request{}, false
	}
	return Request{ID: id, Payload: arr[1]}, true
}

// DecodeResponse validates msg as a response envelope.
func DecodeResponse(msg any) (Response, bool) {
	arr, ok := msg.([]any)
	if !ok || (len(arr) != 2 && len(arr) != 3) {
		return Response{}, false
	}
	id, ok := decodeID(arr[0])
	if !ok {
		return Response{}, false
	}
	resp := Response{ID: id, Err: arr[1]}
	if len(arr) == 3 {
		resp.Result = arr[2]
	}
	return resp, true
}

// decodeID accepts any non-negative integral number. Codecs disagree on how they
// hand numbers back (uint64 in memory, float64 from JSON, the smallest fitting
// integer type from MessagePack), so the check is by kind rather than by type.
func decodeID(v any) (uint64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatID(f)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, false
		}
		return uint64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), true
	case reflect.Float32, reflect.Float64:
		return floatID(rv.Float())
	default:
		return 0, false
	}
}

func floatID(f float64) (uint64, bool) {
	if f < 0 || f != math.Trunc(f) || f > 1<<53 || math.IsNaN(f) {
		return 0, false
	}
	return uint64(f), true
}

// Truthy reports whether v would count as set in the error slot of a response.
// nil, false, numeric zero, NaN, the empty string and nil pointers are not.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
