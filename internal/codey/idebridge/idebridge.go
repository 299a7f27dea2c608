// Package idebridge carries IDE round-trip effects (open a file, show a
// diff preview, check for unsaved edits) over a websocket connection to
// an editor extension. It is a thin JSON-over-websocket transport; the
// resolution logic lives in the effect package.
package idebridge

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"codey/internal/codey/jsonutil"
	"codey/internal/codey/logging"
)

var log = logging.For("idebridge")

// Request is one outbound IDE instruction.
type Request struct {
	CallId string         `json:"call_id"`
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is what the IDE extension replies with once a request
// resolves.
type Response struct {
	CallId string `json:"call_id"`
	Value  string `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Bridge owns one websocket connection to an IDE extension and
// serializes access to it: writes are mutex-free because only the
// eventloop goroutine ever calls Send, but Recv runs on its own
// goroutine and delivers into a channel the eventloop polls.
type Bridge struct {
	conn *websocket.Conn
	recv chan Response
}

func Dial(ctx context.Context, url string) (*Bridge, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ide bridge: dial %s: %w", url, err)
	}
	b := &Bridge{conn: conn, recv: make(chan Response, 16)}
	go b.readLoop()
	return b, nil
}

func (b *Bridge) readLoop() {
	defer close(b.recv)
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			log.Warnf("ide bridge read closed: %v", err)
			return
		}
		var resp Response
		if err := jsonutil.Unmarshal(data, &resp); err != nil {
			log.Warnf("ide bridge: malformed response: %v", err)
			continue
		}
		b.recv <- resp
	}
}

// Send writes one Request to the IDE extension.
func (b *Bridge) Send(req Request) error {
	payload, err := jsonutil.Marshal(req)
	if err != nil {
		return err
	}
	return b.conn.WriteMessage(websocket.TextMessage, payload)
}

// Responses exposes the inbound response stream for the eventloop to
// drain non-blockingly alongside everything else.
func (b *Bridge) Responses() <-chan Response { return b.recv }

func (b *Bridge) Close() error { return b.conn.Close() }
