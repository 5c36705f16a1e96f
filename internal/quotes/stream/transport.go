package stream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport 一条已经建立的文本消息连接。
// ReadMessage 只会被一个 goroutine 调用；WriteMessage / Close 可以和读并发
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialer 基于 gorilla/websocket
type WSDialer struct {
	Dialer    *websocket.Dialer
	ReadLimit int64
	WriteWait time.Duration
}

func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		ReadLimit: 1 << 20,
		WriteWait: 5 * time.Second,
	}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	c, resp, err := d.Dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	t := &wsTransport{c: c, writeWait: d.WriteWait}
	c.SetReadLimit(d.ReadLimit)

	// 服务端的协议层 ping 直接回 pong，写要和业务写串行
	c.SetPingHandler(func(appData string) error {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return c.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(t.writeWait))
	})
	return t, nil
}

type wsTransport struct {
	c         *websocket.Conn
	writeMu   sync.Mutex
	writeWait time.Duration
	closeOnce sync.Once
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		mt, b, err := t.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (t *wsTransport) WriteMessage(b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.c.SetWriteDeadline(time.Now().Add(t.writeWait))
	return t.c.WriteMessage(websocket.TextMessage, b)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.c.Close()
	})
	return err
}
