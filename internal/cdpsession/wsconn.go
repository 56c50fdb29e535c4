package cdpsession

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// wsConn is the client-role WebSocket connection to one CDP target.
//
// Grounded on chromedp's Conn (conn.go): the same "reuse the easyjson
// lexer/writer across Read/Write to avoid per-message allocs" trick, against
// cdproto.Message's own generated MarshalEasyJSON/UnmarshalEasyJSON. The
// socket itself is gobwas/ws rather than conn.go's gorilla/websocket, since
// gobwas/ws is the WebSocket dependency chromedp's go.mod actually declares
// (see DESIGN.md for why conn.go itself drifted onto gorilla/websocket).
type wsConn struct {
	conn net.Conn
	br   *bufio.Reader

	mu     sync.Mutex // guards lexer/writer reuse across concurrent Read/Write
	lexer  jlexer.Lexer
	writer jwriter.Writer
}

// dialWS dials urlstr as a WebSocket client.
func dialWS(ctx context.Context, urlstr string) (*wsConn, error) {
	conn, br, _, err := ws.Dial(ctx, urlstr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", urlstr, err)
	}
	return &wsConn{conn: conn, br: br}, nil
}

// Read blocks for the next complete CDP message from the target.
func (c *wsConn) Read(msg *cdproto.Message) error {
	buf, err := wsutil.ReadServerText(c.br)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lexer = jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&c.lexer)
	if err := c.lexer.Error(); err != nil {
		return err
	}
	// wsutil hands back a buffer it may reuse; msg.Result/Params alias it, so
	// copy both before releasing the lock, exactly as conn.go does for the
	// gorilla read buffer.
	msg.Result = append([]byte(nil), msg.Result...)
	msg.Params = append([]byte(nil), msg.Params...)
	return nil
}

// Write sends msg as one CDP command frame.
func (c *wsConn) Write(msg *cdproto.Message) error {
	c.mu.Lock()
	c.writer = jwriter.Writer{}
	msg.MarshalEasyJSON(&c.writer)
	if err := c.writer.Error; err != nil {
		c.mu.Unlock()
		return err
	}
	buf, err := c.writer.BuildBytes()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return wsutil.WriteClientText(c.conn, buf)
}

// Close closes the underlying connection.
func (c *wsConn) Close() error {
	return c.conn.Close()
}
