package message

import "fmt"

// RemoteError is the error a caller sees when the failure value of a response is
// not already a Go error, typically because it crossed a serialization boundary.
type RemoteError struct {
	Message string `json:"message" msgpack:"message"`
	Value   any    `json:"-" msgpack:"-"` // original failure value, when it was not an error
}

func (e *RemoteError) Error() string {
	return e.Message
}

// AsError turns the error slot of a response into an error. Go errors are returned
// unchanged so their identity survives in-memory ports.
func AsError(v any) error {
	switch e := v.(type) {
	case nil:
		return nil
	case error:
		return e
	case string:
		return &RemoteError{Message: e}
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return &RemoteError{Message: msg}
		}
	}
	return &RemoteError{Message: fmt.Sprint(v), Value: v}
}

// Portable rewrites the Go errors inside v into *RemoteError so that codecs which
// only see exported fields can carry their message.
func Portable(v any) any {
	switch t := v.(type) {
	case *RemoteError:
		return t
	case error:
		return &RemoteError{Message: t.Error()}
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = Portable(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			out[k] = Portable(elem)
		}
		return out
	default:
		return v
	}
}
