package daemon

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/holdover-sh/holdover/internal/logger"
	"github.com/holdover-sh/holdover/internal/protocol"
	"github.com/holdover-sh/holdover/internal/registry"
	"github.com/holdover-sh/holdover/internal/session"
)

// handshakeTimeout bounds how long a fresh connection may take to send
// its request frame.
const handshakeTimeout = 10 * time.Second

// sendTimeout bounds a single write toward the client. A client that
// cannot drain output for this long is treated as gone.
const sendTimeout = 30 * time.Second

// attachedClient is the connection's session.Client implementation. The
// connection owns the socket; the session only holds this reference and
// drops it on detach.
type attachedClient struct {
	id   string
	conn net.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newAttachedClient(conn net.Conn) *attachedClient {
	return &attachedClient{
		id:   uuid.NewString()[:8],
		conn: conn,
	}
}

func (c *attachedClient) ID() string {
	return c.id
}

// Send forwards shell output to the client as a data frame.
func (c *attachedClient) Send(data []byte) error {
	return c.writeFrame(protocol.TypeData, data)
}

func (c *attachedClient) writeFrame(frameType byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return protocol.WriteFrame(c.conn, frameType, payload)
}

func (c *attachedClient) writeResponse(resp *protocol.Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return protocol.WriteResponse(c.conn, resp)
}

func (c *attachedClient) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// handleConn runs one client connection: read the typed request, resolve
// it against the registry, and for an accepted attach switch into the
// bidirectional forwarding loop.
func (s *Server) handleConn(conn net.Conn) {
	client := newAttachedClient(conn)
	defer client.Close()

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	req, err := protocol.ReadRequest(conn)
	if err != nil {
		// Malformed framing has no session side effect; just drop the
		// connection.
		if !errors.Is(err, io.EOF) {
			logger.Warnf("connection [%s]: bad request: %v", client.id, err)
		}
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	logger.Debugf("connection [%s]: %s %q", client.id, req.Kind, req.Name)

	switch req.Kind {
	case protocol.KindAttach:
		s.handleAttach(client, req)
	case protocol.KindDetach:
		s.respondResult(client, s.registry.Detach(req.Name))
	case protocol.KindKill:
		s.respondResult(client, s.registry.Kill(req.Name))
	case protocol.KindList:
		_ = client.writeResponse(&protocol.Response{
			Status:   protocol.StatusOK,
			Sessions: s.registry.List(),
		})
	}
}

// respondResult maps a control operation's error to a response status.
func (s *Server) respondResult(client *attachedClient, err error) {
	resp := &protocol.Response{Status: protocol.StatusOK}
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotFound):
		resp = &protocol.Response{Status: protocol.StatusNotFound, Reason: err.Error()}
	default:
		resp = &protocol.Response{Status: protocol.StatusError, Reason: err.Error()}
	}
	_ = client.writeResponse(resp)
}

func (s *Server) handleAttach(client *attachedClient, req *protocol.Request) {
	sess, restoreBytes, err := s.registry.Attach(req, client)
	if err != nil {
		resp := &protocol.Response{Status: protocol.StatusError, Reason: err.Error()}
		if errors.Is(err, session.ErrBusy) {
			resp.Status = protocol.StatusBusy
		}
		logger.Infof("connection [%s]: attach %q refused: %v", client.id, req.Name, err)
		_ = client.writeResponse(resp)
		return
	}

	if err := client.writeResponse(&protocol.Response{Status: protocol.StatusOK}); err != nil {
		sess.Detach(client)
		return
	}
	if err := client.writeFrame(protocol.TypeData, restoreBytes); err != nil {
		sess.Detach(client)
		return
	}
	// Live output is held back until the handshake frames above are on the
	// wire; release it now.
	if err := sess.ConfirmAttach(client); err != nil {
		return
	}

	// Client-to-shell forwarding loop. The shell-to-client direction is
	// driven by the session's own pump.
	for {
		frameType, payload, err := protocol.ReadFrame(client.conn)
		if err != nil {
			// End of stream or error on the socket releases the
			// exclusivity claim, however abnormal the disconnect.
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debugf("connection [%s]: read: %v", client.id, err)
			}
			sess.Detach(client)
			return
		}

		switch frameType {
		case protocol.TypeData:
			if err := sess.HandleInput(client, payload); err != nil {
				if errors.Is(err, session.ErrDetached) {
					// Detach binding consumed; close the socket cleanly
					// and leave the shell running.
					return
				}
				logger.Debugf("connection [%s]: input: %v", client.id, err)
				sess.Detach(client)
				return
			}
		case protocol.TypeResize:
			size, err := protocol.ParseResize(payload)
			if err != nil {
				logger.Warnf("connection [%s]: %v", client.id, err)
				sess.Detach(client)
				return
			}
			if err := sess.Resize(size); err != nil {
				sess.Detach(client)
				return
			}
		default:
			logger.Warnf("connection [%s]: unexpected frame type 0x%02x", client.id, frameType)
			sess.Detach(client)
			return
		}
	}
}
