package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holdover-sh/holdover/internal/protocol"
)

// Detach disconnects whatever client is attached to the named session.
func Detach(socketPath, name string) error {
	_, err := control(socketPath, &protocol.Request{Kind: protocol.KindDetach, Name: name})
	return err
}

// Kill terminates the named session's shell and removes it.
func Kill(socketPath, name string) error {
	_, err := control(socketPath, &protocol.Request{Kind: protocol.KindKill, Name: name})
	return err
}

// List fetches the daemon's session summaries.
func List(socketPath string) ([]protocol.SessionSummary, error) {
	resp, err := control(socketPath, &protocol.Request{Kind: protocol.KindList})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// control performs a one-shot request/response exchange.
func control(socketPath string, req *protocol.Request) (*protocol.Response, error) {
	conn, err := Dial(socketPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := protocol.WriteRequest(conn, req); err != nil {
		return nil, fmt.Errorf("send %s request: %w", req.Kind, err)
	}
	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Kind, err)
	}

	switch resp.Status {
	case protocol.StatusOK:
		return resp, nil
	case protocol.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.Name)
	case protocol.StatusBusy:
		return nil, fmt.Errorf("%w: %s", ErrBusy, req.Name)
	default:
		return nil, fmt.Errorf("%s failed: %s", req.Kind, resp.Reason)
	}
}

func parseTTL(ttl string) (time.Duration, error) {
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return 0, fmt.Errorf("parse ttl %q: %w", ttl, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ttl must be positive, got %q", ttl)
	}
	return d, nil
}

func marshalSize(size protocol.WinSize) ([]byte, error) {
	return json.Marshal(size)
}
