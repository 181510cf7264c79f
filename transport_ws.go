package cardano

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type OgmiosVersion int

const (
	OgmiosV6 OgmiosVersion = iota
	OgmiosV5
)

func (v OgmiosVersion) String() string {
	if v == OgmiosV5 {
		return "v5"
	}
	return "v6"
}

// OgmiosTransport reaches a node through an ogmios websocket bridge.
type OgmiosTransport struct {
	Endpoint string
	Version  OgmiosVersion
	Header   http.Header
}

func (t *OgmiosTransport) String() string {
	return "ogmios " + t.Version.String() + " " + t.Endpoint
}

func (t *OgmiosTransport) Codec() Codec {
	if t.Version == OgmiosV5 {
		return &OgmiosV5Codec{}
	}
	return &OgmiosCodec{}
}

func (t *OgmiosTransport) Dial(ctx context.Context) (conn FrameConn, err error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, t.Endpoint, t.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to ogmios at %s", t.Endpoint)
	}
	return &wsConn{ws: ws, writeMu: &sync.Mutex{}}, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu *sync.Mutex
}

// interrupt moves the deadline to now once ctx is done, unblocking any call
// waiting on the socket.
func interrupt(ctx context.Context, setDeadline func(time.Time) error) (stop func() bool) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = setDeadline(deadline)
	} else {
		_ = setDeadline(time.Time{})
	}
	return context.AfterFunc(ctx, func() {
		_ = setDeadline(time.Now())
	})
}

func (c *wsConn) WriteFrame(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := interrupt(ctx, c.ws.SetWriteDeadline)
	defer stop()

	return errors.WithStack(c.ws.WriteMessage(websocket.TextMessage, frame))
}

func (c *wsConn) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := interrupt(ctx, c.ws.SetReadDeadline)
	defer stop()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return errors.WithStack(c.ws.Close())
}
