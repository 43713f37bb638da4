// Package rpcstream adapts message-oriented transports to the jsonrpc2.Stream
// interface, so both sides of the relay speak jsonrpc2.Message regardless of framing.
package rpcstream

import (
	"context"
	"encoding/json"
	"fmt"

	"go.lsp.dev/jsonrpc2"
	"nhooyr.io/websocket"
)

// wsStream carries one JSON-RPC message per WebSocket frame. The backend side of a
// session uses jsonrpc2.NewStream (Content-Length framing) over stdio instead; this
// pair of streams is the only translation between the two envelopes.
type wsStream struct {
	conn *websocket.Conn
}

// NewWSStream returns a jsonrpc2.Stream over the given WebSocket connection.
func NewWSStream(conn *websocket.Conn) jsonrpc2.Stream {
	return &wsStream{conn: conn}
}

// Read blocks until the next frame and decodes it. A frame that does not decode as
// a JSON-RPC message is a transport error for this connection only.
func (s *wsStream) Read(ctx context.Context) (jsonrpc2.Message, int64, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return nil, 0, err
	}
	msg, err := jsonrpc2.DecodeMessage(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decoding frame: %w", err)
	}
	return msg, int64(len(data)), nil
}

// Write encodes the message into a single text frame.
func (s *wsStream) Write(ctx context.Context, msg jsonrpc2.Message) (int64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encoding frame: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Close performs a normal WebSocket closure.
func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
