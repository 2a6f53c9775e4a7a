package port

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
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

func TestMessageChannelDeliversAfterStart(t *testing.T) {
	mc := NewMessageChannel()
	defer mc.Close()

	got := make(chan any, 4)
	mc.Port2.AddListener(func(msg any) { got <- msg })

	if err := mc.Port1.PostMessage("queued", nil); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-got:
		t.Fatalf("message %v delivered before Start", msg)
	case <-time.After(50 * time.Millisecond):
	}

	mc.Port2.Start()
	if msg := recv(t, got); msg != "queued" {
		t.Fatalf("expect 'queued', got %v", msg)
	}

	if err := mc.Port1.PostMessage("live", nil); err != nil {
		t.Fatal(err)
	}
	if msg := recv(t, got); msg != "live" {
		t.Fatalf("expect 'live', got %v", msg)
	}
}

func TestMessageChannelPreservesOrder(t *testing.T) {
	mc := NewMessageChannel()
	defer mc.Close()

	got := make(chan any, 100)
	mc.Port2.AddListener(func(msg any) { got <- msg })
	mc.Port2.Start()

	for i := 0; i < 100; i++ {
		if err := mc.Port1.PostMessage(i, nil); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 100; i++ {
		if msg := recv(t, got); msg != i {
			t.Fatalf("expect %d, got %v", i, msg)
		}
	}
}

func TestMessageChannelEveryListenerSeesEveryMessage(t *testing.T) {
	mc := NewMessageChannel()
	defer mc.Close()

	a := make(chan any, 1)
	b := make(chan any, 1)
	mc.Port2.AddListener(func(msg any) { a <- msg })
	removeB := mc.Port2.AddListener(func(msg any) { b <- msg })
	mc.Port2.Start()

	mc.Port1.PostMessage("one", nil)
	if recv(t, a) != "one" || recv(t, b) != "one" {
		t.Fatal("expect both listeners to receive 'one'")
	}

	removeB()
	removeB()
	if mc.Port2.Len() != 1 {
		t.Fatalf("expect 1 listener after remove, got %d", mc.Port2.Len())
	}

	mc.Port1.PostMessage("two", nil)
	if recv(t, a) != "two" {
		t.Fatal("expect remaining listener to receive 'two'")
	}
	select {
	case msg := <-b:
		t.Fatalf("removed listener received %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMessagePortClosed(t *testing.T) {
	mc := NewMessageChannel()
	mc.Port1.Start()
	mc.Port2.Start()
	mc.Port1.Close()

	if err := mc.Port1.PostMessage("x", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	// Posting towards a closed peer is not an error, the message is dropped.
	if err := mc.Port2.PostMessage("x", nil); err != nil {
		t.Fatalf("expect nil, got %v", err)
	}

	select {
	case <-mc.Port1.Done():
	default:
		t.Fatal("expect Done to be closed")
	}
	mc.Close()
}

func TestMessageChannelCopiesBytes(t *testing.T) {
	mc := NewMessageChannel()
	defer mc.Close()

	got := make(chan any, 1)
	mc.Port2.AddListener(func(msg any) { got <- msg })
	mc.Port2.Start()

	origin := []byte("hello")
	mc.Port1.PostMessage(map[string]any{"data": origin}, nil)
	origin[0] = 'j'

	received := recv(t, got).(map[string]any)["data"].([]byte)
	if string(received) != "hello" {
		t.Fatalf("expect a copy, got %q", received)
	}
}

func TestMessageChannelTransfersBuffer(t *testing.T) {
	mc := NewMessageChannel()
	defer mc.Close()

	got := make(chan any, 1)
	mc.Port2.AddListener(func(msg any) { got <- msg })
	mc.Port2.Start()

	const size = 8 * 1024 * 1024
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	buf := NewBuffer(data)

	if err := mc.Port1.PostMessage(buf, &TransferOptions{Transfer: []*Buffer{buf}}); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 || !buf.Detached() {
		t.Fatalf("expect origin to be detached, len=%d", buf.Len())
	}

	received := recv(t, got).(*Buffer)
	if received.Len() != size {
		t.Fatalf("expect %d bytes, got %d", size, received.Len())
	}
	if &received.Bytes()[0] != &data[0] {
		t.Fatal("expect the bytes to be moved, not copied")
	}
}

func TestCloneBufferWithoutTransferIsCopied(t *testing.T) {
	buf := NewBuffer([]byte("abc"))
	out, err := Clone([]any{buf, buf}, nil)
	if err != nil {
		t.Fatal(err)
	}
	pair := out.([]any)
	if pair[0] != pair[1] {
		t.Fatal("expect the same buffer to clone to the same copy")
	}
	cp := pair[0].(*Buffer)
	if cp == buf || buf.Detached() || !bytes.Equal(cp.Bytes(), buf.Bytes()) {
		t.Fatal("expect an independent copy and an intact origin")
	}
}

func TestCloneRejects(t *testing.T) {
	detached := NewBuffer([]byte("x"))
	detached.Detach()
	dup := NewBuffer([]byte("y"))

	cases := []struct {
		name string
		v    any
		opts *TransferOptions
	}{
		{"func", func() {}, nil},
		{"chan", make(chan int), nil},
		{"nested func", map[string]any{"f": []any{func() {}}}, nil},
		{"detached transfer", "x", &TransferOptions{Transfer: []*Buffer{detached}}},
		{"duplicate transfer", dup, &TransferOptions{Transfer: []*Buffer{dup, dup}}},
		{"nil transfer", "x", &TransferOptions{Transfer: []*Buffer{nil}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Clone(tc.v, tc.opts); !errors.Is(err, ErrDataClone) {
				t.Fatalf("expect ErrDataClone, got %v", err)
			}
		})
	}

	if dup.Detached() {
		t.Fatal("expect nothing to be detached when cloning fails")
	}
}

func TestCloneFailureKeepsTransferList(t *testing.T) {
	buf := NewBuffer([]byte("keep"))
	_, err := Clone([]any{buf, func() {}}, &TransferOptions{Transfer: []*Buffer{buf}})
	if !errors.Is(err, ErrDataClone) {
		t.Fatalf("expect ErrDataClone, got %v", err)
	}
	if buf.Detached() || buf.Len() != 4 {
		t.Fatal("expect buffer to stay attached after a failed clone")
	}
}

type attachment struct {
	Name  string
	Data  *Buffer
	Parts []*Buffer
}

func TestCloneMovesNestedBuffers(t *testing.T) {
	a := NewBuffer(make([]byte, 1024))
	b := NewBuffer(make([]byte, 2048))
	c := NewBuffer([]byte("copied"))

	in := []any{
		[]*Buffer{a},
		attachment{Name: "doc", Data: b, Parts: []*Buffer{a, c}},
		map[string]*Buffer{"b": b},
	}
	out, err := Clone(in, &TransferOptions{Transfer: []*Buffer{a, b}})
	if err != nil {
		t.Fatal(err)
	}
	if a.Len() != 0 || b.Len() != 0 {
		t.Fatalf("expect transferred origins detached, got %d and %d", a.Len(), b.Len())
	}
	if c.Len() != 6 {
		t.Fatal("expect a buffer outside the transfer list to stay attached")
	}

	arr := out.([]any)
	movedA := arr[0].([]*Buffer)[0]
	if movedA == a || movedA.Len() != 1024 {
		t.Fatalf("expect a moved 1024 byte buffer, got len=%d same=%v", movedA.Len(), movedA == a)
	}

	att := arr[1].(attachment)
	if att.Name != "doc" || att.Data == b || att.Data.Len() != 2048 {
		t.Fatalf("expect moved buffer inside struct, got %+v", att)
	}
	if att.Parts[0] != movedA {
		t.Fatal("expect the same buffer to map to the same moved buffer")
	}
	if att.Parts[1] == c || !bytes.Equal(att.Parts[1].Bytes(), []byte("copied")) {
		t.Fatal("expect an untransferred buffer to be copied")
	}

	if m := arr[2].(map[string]*Buffer); m["b"] != att.Data {
		t.Fatal("expect typed map to hold the moved buffer")
	}
}

func TestCloneDeepCopiesTypedContainers(t *testing.T) {
	type node struct {
		Values []int
		Next   *node
	}
	loop := &node{Values: []int{1, 2}}
	loop.Next = loop

	out, err := Clone(loop, nil)
	if err != nil {
		t.Fatal(err)
	}
	cp := out.(*node)
	if cp == loop || cp.Next != cp {
		t.Fatal("expect a copy that keeps its cycle")
	}
	cp.Values[0] = 99
	if loop.Values[0] != 1 {
		t.Fatal("expect typed slices not to be shared")
	}

	counts := map[string][]string{"k": {"v"}}
	outMap, err := Clone(counts, nil)
	if err != nil {
		t.Fatal(err)
	}
	outMap.(map[string][]string)["k"][0] = "changed"
	if counts["k"][0] != "v" {
		t.Fatal("expect typed maps not to be shared")
	}
}

func TestCloneRejectsBufferInUnexportedField(t *testing.T) {
	type hidden struct {
		buf *Buffer
	}
	buf := NewBuffer([]byte("x"))
	if _, err := Clone(hidden{buf: buf}, &TransferOptions{Transfer: []*Buffer{buf}}); !errors.Is(err, ErrDataClone) {
		t.Fatalf("expect ErrDataClone, got %v", err)
	}
	if buf.Detached() {
		t.Fatal("expect nothing detached after a failed clone")
	}
}
