// Package streamtest 提供内存版的 stream.Dialer / stream.Transport，测试里模拟上游 provider
package streamtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"tickwire.com/internal/quotes/stream"
)

var ErrClosed = errors.New("streamtest: transport closed")

// Transport 一条假的连接：测试用 Send 推入站消息，用 Next 取出站消息
type Transport struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func NewTransport() *Transport {
	return &Transport{
		in:     make(chan []byte, 256),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (t *Transport) ReadMessage() ([]byte, error) {
	// 对端关闭前已经发出的消息先读完
	select {
	case b := <-t.in:
		return b, nil
	default:
	}
	select {
	case b := <-t.in:
		return b, nil
	case <-t.closed:
		return nil, ErrClosed
	}
}

func (t *Transport) WriteMessage(b []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	cp := append([]byte(nil), b...)
	select {
	case t.out <- cp:
		return nil
	default:
		return errors.New("streamtest: outbound buffer full")
	}
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Send 模拟 provider 推一条消息
func (t *Transport) Send(msg string) { t.in <- []byte(msg) }

// CloseRemote 模拟对端断开
func (t *Transport) CloseRemote() { _ = t.Close() }

func (t *Transport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Next 等下一条出站消息并解成 map，超时返回 nil
func (t *Transport) Next(timeout time.Duration) map[string]any {
	select {
	case b := <-t.out:
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil
		}
		return m
	case <-time.After(timeout):
		return nil
	}
}

// NextEvent 跳过其它出站消息，直到 event 字段匹配
func (t *Transport) NextEvent(event string, timeout time.Duration) map[string]any {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil
		}
		m := t.Next(left)
		if m == nil {
			return nil
		}
		if m["event"] == event {
			return m
		}
	}
}

// Dialer 每次 Dial 先问 Fail，返回 nil 就新建一条 Transport
type Dialer struct {
	mu    sync.Mutex
	dials int
	conns []*Transport

	// Fail 按第 n 次拨号（从 1 开始）决定是否失败
	Fail func(n int) error
	// Dialed 每条新连接都会推到这里
	Dialed chan *Transport
}

func NewDialer() *Dialer {
	return &Dialer{Dialed: make(chan *Transport, 64)}
}

func (d *Dialer) Dial(ctx context.Context, url string) (stream.Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	fail := d.Fail
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}
	t := NewTransport()
	d.mu.Lock()
	d.conns = append(d.conns, t)
	d.mu.Unlock()
	select {
	case d.Dialed <- t:
	default:
	}
	return t, nil
}

func (d *Dialer) SetFail(f func(n int) error) {
	d.mu.Lock()
	d.Fail = f
	d.mu.Unlock()
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Await 等下一条成功建立的连接
func (d *Dialer) Await(timeout time.Duration) *Transport {
	select {
	case t := <-d.Dialed:
		return t
	case <-time.After(timeout):
		return nil
	}
}

var _ stream.Dialer = (*Dialer)(nil)
var _ stream.Transport = (*Transport)(nil)
