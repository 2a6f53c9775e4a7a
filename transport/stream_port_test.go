package transport

import (
	"errors"
	"net"
	"port-rpc/codec"
	"port-rpc/message"
	"port-rpc/port"
	"port-rpc/protocol"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPipePorts(t *testing.T, ct codec.CodecType, opts ...Option) (*StreamPort, *StreamPort) {
	t.Helper()
	c1, c2 := net.Pipe()
	p1 := NewStreamPort(c1, ct, opts...)
	p2 := NewStreamPort(c2, ct, opts...)
	t.Cleanup(func() {
		p1.Close()
		p2.Close()
	})
	return p1, p2
}

func listen(p *StreamPort) <-chan any {
	ch := make(chan any, 16)
	p.AddListener(func(msg any) { ch <- msg })
	p.Start()
	return ch
}

func recv(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestStreamPortDeliversEnvelopes(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeMsgpack} {
		t.Run(ct.String(), func(t *testing.T) {
			p1, p2 := newPipePorts(t, ct)
			p1.Start()
			got := listen(p2)

			if err := p1.PostMessage(message.Request{ID: 1, Payload: "ping"}.Encode(), nil); err != nil {
				t.Fatal(err)
			}

			req, ok := message.DecodeRequest(recv(t, got))
			if !ok {
				t.Fatal("expect a request envelope")
			}
			if req.ID != 1 || req.Payload != "ping" {
				t.Fatalf("unexpected request: %+v", req)
			}
		})
	}
}

func TestStreamPortCarriesErrors(t *testing.T) {
	p1, p2 := newPipePorts(t, codec.CodecTypeJSON)
	p1.Start()
	got := listen(p2)

	if err := p1.PostMessage(message.NewFailure(2, errors.New("busted!")).Encode(), nil); err != nil {
		t.Fatal(err)
	}

	resp, ok := message.DecodeResponse(recv(t, got))
	if !ok || !resp.Failed() {
		t.Fatalf("expect a failure envelope, got %+v", resp)
	}
	if err := message.AsError(resp.Err); err.Error() != "busted!" {
		t.Fatalf("expect 'busted!', got %v", err)
	}
}

func TestStreamPortTransfersBuffer(t *testing.T) {
	p1, p2 := newPipePorts(t, codec.CodecTypeMsgpack)
	p1.Start()
	got := listen(p2)

	const size = 1024 * 1024
	buf := port.NewBuffer(make([]byte, size))
	if err := p1.PostMessage([]any{uint64(3), buf}, &port.TransferOptions{Transfer: []*port.Buffer{buf}}); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expect origin buffer to be detached, len=%d", buf.Len())
	}

	req, ok := message.DecodeRequest(recv(t, got))
	if !ok {
		t.Fatal("expect a request envelope")
	}
	received, ok := req.Payload.(*port.Buffer)
	if !ok {
		t.Fatalf("expect *port.Buffer, got %T", req.Payload)
	}
	if received.Len() != size {
		t.Fatalf("expect %d bytes, got %d", size, received.Len())
	}

	if err := p1.PostMessage("again", &port.TransferOptions{Transfer: []*port.Buffer{buf}}); !errors.Is(err, port.ErrDataClone) {
		t.Fatalf("expect ErrDataClone for a detached buffer, got %v", err)
	}
}

func TestStreamPortSkipsHeartbeats(t *testing.T) {
	p1, p2 := newPipePorts(t, codec.CodecTypeJSON, WithHeartbeat(5*time.Millisecond))
	p1.Start()
	got := listen(p2)

	time.Sleep(50 * time.Millisecond)
	if err := p1.PostMessage("after heartbeats", nil); err != nil {
		t.Fatal(err)
	}
	if msg := recv(t, got); msg != "after heartbeats" {
		t.Fatalf("expect only the message, got %v", msg)
	}
}

func TestStreamPortDropsUndecodableFrames(t *testing.T) {
	c1, c2 := net.Pipe()
	p2 := NewStreamPort(c2, codec.CodecTypeJSON)
	defer p2.Close()
	defer c1.Close()
	got := listen(p2)

	garbage := []byte("{not json")
	if err := protocol.Encode(c1, &protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeMessage,
		BodyLen:   uint32(len(garbage)),
	}, garbage); err != nil {
		t.Fatal(err)
	}
	good := []byte(`"ok"`)
	if err := protocol.Encode(c1, &protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeMessage,
		BodyLen:   uint32(len(good)),
	}, good); err != nil {
		t.Fatal(err)
	}

	if msg := recv(t, got); msg != "ok" {
		t.Fatalf("expect 'ok', got %v", msg)
	}
}

func TestStreamPortClose(t *testing.T) {
	p1, p2 := newPipePorts(t, codec.CodecTypeJSON)
	p1.Start()
	p2.Start()

	p1.Close()
	if err := p1.PostMessage("x", nil); !errors.Is(err, port.ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}

	select {
	case <-p2.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expect peer to notice the closed stream")
	}
}

func TestStreamPortRejectsUnencodable(t *testing.T) {
	p1, _ := newPipePorts(t, codec.CodecTypeJSON)
	p1.Start()

	if err := p1.PostMessage(func() {}, nil); !errors.Is(err, port.ErrDataClone) {
		t.Fatalf("expect ErrDataClone, got %v", err)
	}
}

func TestStreamPortOversizedMessageKeepsStream(t *testing.T) {
	p1, p2 := newPipePorts(t, codec.CodecTypeMsgpack, WithMaxFrame(1024))
	p1.Start()
	got := listen(p2)

	buf := port.NewBuffer(make([]byte, 4096))
	err := p1.PostMessage(buf, &port.TransferOptions{Transfer: []*port.Buffer{buf}})
	if !errors.Is(err, port.ErrDataClone) || !errors.Is(err, protocol.ErrBodyTooLarge) {
		t.Fatalf("expect ErrDataClone wrapping ErrBodyTooLarge, got %v", err)
	}
	if buf.Detached() {
		t.Fatal("expect a rejected buffer to stay attached")
	}

	select {
	case <-p1.Done():
		t.Fatal("expect the stream to stay open")
	default:
	}
	if err := p1.PostMessage("small", nil); err != nil {
		t.Fatal(err)
	}
	if msg := recv(t, got); msg != "small" {
		t.Fatalf("expect 'small', got %v", msg)
	}
}
