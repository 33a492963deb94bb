// Package client implements the client side of the daemon protocol: the
// interactive attach loop and the one-shot control operations.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/holdover-sh/holdover/internal/protocol"
)

var (
	// ErrBusy means another client is attached to the session.
	ErrBusy = errors.New("session is busy")
	// ErrNotFound means the daemon does not know the session name.
	ErrNotFound = errors.New("session not found")
)

// Dial connects to the daemon socket.
func Dial(socketPath string) (net.Conn, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon on %s (is `holdover daemon` running?): %w", socketPath, err)
	}
	return conn, nil
}

// AttachOptions carries the attach command's flags.
type AttachOptions struct {
	Name          string
	RestoreBudget *int
	TTL           string
	Force         bool
	Command       []string
	Dir           string
}

// Attach connects the current terminal to the named session, creating it
// if needed, and relays bytes until detach, session death, or kill.
func Attach(socketPath string, opts AttachOptions) error {
	conn, err := Dial(socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := &protocol.Request{
		Kind:          protocol.KindAttach,
		Name:          opts.Name,
		RestoreBudget: opts.RestoreBudget,
		Force:         opts.Force,
		Command:       opts.Command,
		Env:           os.Environ(),
		Dir:           opts.Dir,
	}
	if opts.Dir == "" {
		if cwd, err := os.Getwd(); err == nil {
			req.Dir = cwd
		}
	}
	if opts.TTL != "" {
		ttl, err := parseTTL(opts.TTL)
		if err != nil {
			return err
		}
		req.TTL = ttl
	}
	if size, err := currentSize(); err == nil {
		req.Size = size
	}

	if err := protocol.WriteRequest(conn, req); err != nil {
		return fmt.Errorf("send attach request: %w", err)
	}
	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		return fmt.Errorf("read attach response: %w", err)
	}
	switch resp.Status {
	case protocol.StatusOK:
	case protocol.StatusBusy:
		return fmt.Errorf("%w: %s (use --force to take over)", ErrBusy, opts.Name)
	case protocol.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, opts.Name)
	default:
		return fmt.Errorf("attach refused: %s", resp.Reason)
	}

	return stream(conn)
}

// stream runs the raw bidirectional byte relay after a successful attach
// handshake. The first inbound data frame carries the restore bytes.
func stream(conn net.Conn) error {
	stdinFd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("put terminal in raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(stdinFd, oldState)
	}()

	var writeMu sync.Mutex
	writeFrame := func(frameType byte, payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return protocol.WriteFrame(conn, frameType, payload)
	}

	// Propagate terminal size changes in-band.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			size, err := currentSize()
			if err != nil {
				continue
			}
			payload, err := marshalSize(size)
			if err != nil {
				continue
			}
			_ = writeFrame(protocol.TypeResize, payload)
		}
	}()

	// Keyboard input toward the daemon.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if err := writeFrame(protocol.TypeData, buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Shell output toward the terminal. The loop ends when the daemon
	// closes the stream: detach, kill, or shell exit all look like a
	// clean end of stream here.
	for {
		frameType, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		if frameType != protocol.TypeData {
			continue
		}
		if _, err := os.Stdout.Write(payload); err != nil {
			return fmt.Errorf("write to terminal: %w", err)
		}
	}
}

func currentSize() (protocol.WinSize, error) {
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return protocol.WinSize{}, err
	}
	return protocol.WinSize{Cols: uint16(cols), Rows: uint16(rows)}, nil
}
