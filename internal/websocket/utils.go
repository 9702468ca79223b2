package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// Frame deadlines for the session stream. Writes are short so a stalled
// client cannot wedge the writer; reads span the think time between answers.
const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// WriteTyped sends one typed frame to the client.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError reports a client-facing problem without closing the stream.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadRaw returns the next frame's raw bytes. Session frames carry an action
// tag plus action-specific fields, so callers decode in two passes.
func ReadRaw(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	_, raw, err := conn.ReadMessage()
	return raw, err
}
