package server

import "port-rpc/port"

// Transferable is a handler result whose buffers should be moved, not copied, to
// the caller. The caller only ever sees Value.
type Transferable struct {
	Value   any
	Options *port.TransferOptions
}

// Transfer marks value for zero-copy return. It only has an effect as the return
// value of a handler.
func Transfer(value any, opts *port.TransferOptions) Transferable {
	return Transferable{Value: value, Options: opts}
}

// unwrap splits a handler result into what goes on the wire and how.
func unwrap(result any) (any, *port.TransferOptions) {
	switch r := result.(type) {
	case Transferable:
		return r.Value, r.Options
	case *Transferable:
		if r == nil {
			return nil, nil
		}
		return r.Value, r.Options
	default:
		return result, nil
	}
}
