package codec

import (
	"port-rpc/port"

	"github.com/vmihailenco/msgpack/v5"
)

// bufferExtID is the MessagePack extension type carrying a *port.Buffer.
const bufferExtID int8 = 1

func init() {
	msgpack.RegisterExt(bufferExtID, (*port.Buffer)(nil))
}

// MsgpackCodec is a compact binary codec. Unlike JSON it keeps []byte as bytes,
// integers as integers and *port.Buffer as *port.Buffer.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
