// Package transport carries Protocol frames over a WebSocket
// connection (spec §4.H/§6): each direction is a bidirectional,
// reliable, ordered, message-framed channel. Each frame is PADMÉ-padded
// (spec §4.B) and written as one WebSocket binary message, with no
// 4-byte length prefix: WebSocket message framing takes its place.
package transport

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/evolu-go/sync/synerr"
	"github.com/evolu-go/sync/wire"
)

// Conn is a padded, frame-oriented duplex channel, satisfied by a
// *websocket.Conn wrapped below. Package protocol never imports
// gorilla/websocket directly — it only needs to Send/Receive byte
// frames (spec §9's capability-object rule).
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type wsConn struct {
	ws *websocket.Conn
}

// Send pads payload and writes it as a single binary WebSocket
// message; gorilla/websocket already frames messages, so no
// additional 4-byte length prefix from package wire is needed on top
// of it (that framing is reserved for byte-stream transports).
func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	padded, err := wire.Pad(payload)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, padded); err != nil {
		return &synerr.Transport{Cause: err}
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
	}
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, &synerr.Transport{Cause: err}
	}
	if kind != websocket.BinaryMessage {
		return nil, &synerr.Protocol{Detail: "transport: expected binary WebSocket message"}
	}
	return wire.Unpad(data)
}

func (c *wsConn) Close() error { return c.ws.Close() }

// DialClient opens a client-side connection to a relay's sync
// endpoint (spec §6's "Transport" section).
func DialClient(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &synerr.Transport{Cause: err}
	}
	return &wsConn{ws: ws}, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Upgrade implements the relay's single sync endpoint (spec §6): it
// accepts the transport upgrade, or responds 426 Upgrade Required if
// the request isn't a WebSocket handshake, matching §6's "On each
// frame: decode, validate version byte, dispatch by kind, encode
// response, pad, send" contract one layer up, in cmd/relay.
func Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "upgrade required", http.StatusUpgradeRequired)
		return nil, &synerr.Protocol{Detail: "transport: non-upgrade request to sync endpoint"}
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, &synerr.Transport{Cause: err}
	}
	return &wsConn{ws: ws}, nil
}
