// Package protocol defines the framed wire protocol spoken between the
// holdover client and daemon over the local unix socket.
//
// Every message is a frame: a 1-byte type, a 4-byte big-endian payload
// length, then the payload. A connection carries exactly one Request and
// one Response; an accepted attach then switches the same connection to
// streaming mode where Data frames carry raw terminal bytes in both
// directions and Resize frames carry client size changes in-band.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Frame types.
const (
	// TypeRequest carries a JSON Request from client to daemon.
	TypeRequest byte = 0x01
	// TypeResponse carries a JSON Response from daemon to client.
	TypeResponse byte = 0x02
	// TypeData carries raw terminal bytes in either direction.
	TypeData byte = 0x03
	// TypeResize carries a JSON WinSize from client to daemon.
	TypeResize byte = 0x04
)

// MaxPayload bounds a single frame payload. Terminal I/O is chunked well
// below this; anything larger is a framing error.
const MaxPayload = 1 << 20

// ErrProtocol reports malformed framing. The connection is closed without
// any session side effect when it occurs.
var ErrProtocol = errors.New("protocol error")

// Request kinds.
const (
	KindAttach = "attach"
	KindDetach = "detach"
	KindKill   = "kill"
	KindList   = "list"
)

// WinSize is a terminal size in character cells.
type WinSize struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// Request is the single typed request a client opens a connection with.
type Request struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`

	// Attach parameters.
	Size WinSize `json:"size,omitempty"`
	// RestoreBudget overrides the session's raw cache budget in bytes for
	// output produced from this attach onward. Nil keeps the current one.
	RestoreBudget *int `json:"restore_budget,omitempty"`
	// TTL overrides the session's idle time-to-live. Zero keeps the
	// daemon default.
	TTL time.Duration `json:"ttl,omitempty"`
	// Force steals the attachment from a currently connected client.
	Force bool `json:"force,omitempty"`

	// Shell spawn parameters used when the attach creates the session.
	Command []string `json:"command,omitempty"`
	Env     []string `json:"env,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

// Response statuses.
const (
	StatusOK       = "ok"
	StatusBusy     = "busy"
	StatusNotFound = "not-found"
	StatusError    = "error"
)

// SessionSummary is one row of a list response.
type SessionSummary struct {
	Name      string        `json:"name"`
	Attached  bool          `json:"attached"`
	CreatedAt time.Time     `json:"created_at"`
	Idle      time.Duration `json:"idle,omitempty"`
}

// Response answers a Request. For an accepted attach the daemon follows it
// with one Data frame holding the restore bytes, then begins streaming.
type Response struct {
	Status   string           `json:"status"`
	Reason   string           `json:"reason,omitempty"`
	Sessions []SessionSummary `json:"sessions,omitempty"`
}

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, frameType byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrProtocol, len(payload))
	}
	header := make([]byte, 5)
	header[0] = frameType
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads one frame from r. It returns io.EOF untouched on a clean
// end of stream so callers can distinguish disconnect from corruption.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}

	frameType := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxPayload {
		return 0, nil, fmt.Errorf("%w: frame length %d exceeds limit", ErrProtocol, length)
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return frameType, payload, nil
}

// WriteRequest marshals and frames a request.
func WriteRequest(w io.Writer, req *Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return WriteFrame(w, TypeRequest, payload)
}

// ReadRequest reads the opening request frame of a connection.
func ReadRequest(r io.Reader) (*Request, error) {
	frameType, payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if frameType != TypeRequest {
		return nil, fmt.Errorf("%w: expected request frame, got type 0x%02x", ErrProtocol, frameType)
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: unmarshal request: %v", ErrProtocol, err)
	}
	switch req.Kind {
	case KindAttach, KindDetach, KindKill, KindList:
	default:
		return nil, fmt.Errorf("%w: unknown request kind %q", ErrProtocol, req.Kind)
	}
	return &req, nil
}

// WriteResponse marshals and frames a response.
func WriteResponse(w io.Writer, resp *Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return WriteFrame(w, TypeResponse, payload)
}

// ReadResponse reads a response frame.
func ReadResponse(r io.Reader) (*Response, error) {
	frameType, payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if frameType != TypeResponse {
		return nil, fmt.Errorf("%w: expected response frame, got type 0x%02x", ErrProtocol, frameType)
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", ErrProtocol, err)
	}
	return &resp, nil
}

// WriteResize marshals and frames a resize notification.
func WriteResize(w io.Writer, size WinSize) error {
	payload, err := json.Marshal(size)
	if err != nil {
		return fmt.Errorf("marshal resize: %w", err)
	}
	return WriteFrame(w, TypeResize, payload)
}

// ParseResize unmarshals a resize frame payload.
func ParseResize(payload []byte) (WinSize, error) {
	var size WinSize
	if err := json.Unmarshal(payload, &size); err != nil {
		return WinSize{}, fmt.Errorf("%w: unmarshal resize: %v", ErrProtocol, err)
	}
	if size.Rows == 0 || size.Cols == 0 {
		return WinSize{}, fmt.Errorf("%w: resize to %dx%d", ErrProtocol, size.Cols, size.Rows)
	}
	return size, nil
}
