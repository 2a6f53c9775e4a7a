package transport

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"port-rpc/codec"
	"sync"
)

// NewCmdPort starts cmd and returns a started port speaking over its stdin/stdout.
// This is the worker channel: the child registers a responder on StdioPort.
// cmd.Stderr defaults to os.Stderr. Closing the port closes the child's stdin and
// waits for it to exit.
func NewCmdPort(cmd *exec.Cmd, codecType codec.CodecType, opts ...Option) (*StreamPort, error) {
	if cmd == nil {
		return nil, errors.New("transport: nil cmd")
	}
	if cmd.Stdin != nil {
		return nil, errors.New("transport: cmd stdin already set")
	}
	if cmd.Stdout != nil {
		return nil, errors.New("transport: cmd stdout already set")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, err
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, err
	}

	p := NewStreamPort(&cmdConn{cmd: cmd, stdin: stdin, stdout: stdout}, codecType, opts...)
	p.Start()
	return p, nil
}

type cmdConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (c *cmdConn) Read(b []byte) (int, error)  { return c.stdout.Read(b) }
func (c *cmdConn) Write(b []byte) (int, error) { return c.stdin.Write(b) }

func (c *cmdConn) Close() error {
	_ = c.stdin.Close()
	_ = c.stdout.Close()
	return c.cmd.Wait()
}

type stdio struct{}

func (stdio) Read(b []byte) (int, error)  { return os.Stdin.Read(b) }
func (stdio) Write(b []byte) (int, error) { return os.Stdout.Write(b) }
func (stdio) Close() error                { return os.Stdout.Close() }

var (
	stdioOnce sync.Once
	stdioPort *StreamPort
)

// StdioPort returns the process-wide port over os.Stdin and os.Stdout, the ambient
// channel of a worker process. The codec and options of the first call win.
// Nothing else in the process may write to os.Stdout once the port is in use.
func StdioPort(codecType codec.CodecType, opts ...Option) *StreamPort {
	stdioOnce.Do(func() {
		stdioPort = NewStreamPort(stdio{}, codecType, opts...)
	})
	return stdioPort
}
