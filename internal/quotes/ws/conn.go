package ws

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/safe"
)

// Conn 一个下游客户端。每个 topic 只保留最新一条（LatestOnly），写协程醒来批量发
type Conn struct {
	ws     *websocket.Conn
	hub    *Hub
	mu     sync.Mutex
	latest map[string][]byte
	notify chan struct{} // 缓冲 1：合并唤醒
	closed atomic.Bool
}

func NewConn(h *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		ws:     ws,
		hub:    h,
		latest: make(map[string][]byte, 64),
		notify: make(chan struct{}, 1),
	}
}

func (c *Conn) Offer(topic string, payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	c.latest[topic] = payload
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *Conn) flushLatest(max int) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.latest) == 0 {
		return nil
	}
	out := make([][]byte, 0, min(len(c.latest), max))
	for k, v := range c.latest {
		out = append(out, v)
		delete(c.latest, k)
		if len(out) >= max {
			break
		}
	}
	return out
}

type Server struct {
	Hub      *Hub
	Upgrader websocket.Upgrader

	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64

	ctx context.Context
}

func NewServer(ctx context.Context, h *Hub) *Server {
	return &Server{
		Hub: h,
		ctx: ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin 由前面的 cors 中间件管
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 100 * time.Millisecond,
		WriteWait:  5 * time.Second,
		ReadLimit:  1 << 12,
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug(r.Context(), "ws upgrade failed", zap.Error(err))
		return
	}
	c := NewConn(s.Hub, wsConn)
	safe.GoCtx(s.ctx, func(ctx context.Context) { s.writePump(ctx, c) })
	safe.GoCtx(s.ctx, func(ctx context.Context) { s.readPump(ctx, c) })
}

func (s *Server) readPump(ctx context.Context, c *Conn) {
	defer func() {
		c.closed.Store(true)
		c.hub.RemoveConn(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Debug(ctx, "ws client pong timeout", zap.Error(err))
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug(ctx, "ws client read error", zap.Error(err))
			}
			return
		}
		var msg ClientMsg
		if json.Unmarshal(b, &msg) != nil {
			continue
		}
		switch msg.Type {
		case "sub":
			c.hub.Subscribe(c, msg.Topics)
		case "unsub":
			c.hub.Unsubscribe(c, msg.Topics)
		}
	}
}

const maxFlush = 256 // 单次最多写多少条，防止订阅 topic 极多时一次写爆

func (s *Server) writePump(ctx context.Context, c *Conn) {
	// 错开大量连接同时发 ping
	if s.PingJitter > 0 {
		t := time.NewTimer(rand.N(s.PingJitter))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			_ = c.ws.Close()
			return
		}
	}

	ticker := time.NewTicker(s.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closed.Store(true)
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.notify:
			batch := c.flushLatest(maxFlush)
			if len(batch) == 0 {
				continue
			}
			if err := s.writeBatch(c, batch); err != nil {
				logger.Debug(ctx, "ws client write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.WriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(s.WriteWait))
			return
		}
	}
}

// writeBatch 一次 NextWriter 写完本批，多条 JSON 用换行分隔
func (s *Server) writeBatch(c *Conn, batch [][]byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(s.WriteWait))
	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	for i, payload := range batch {
		if i > 0 {
			if _, err := w.Write([]byte("\n")); err != nil {
				_ = w.Close()
				return err
			}
		}
		if _, err := w.Write(payload); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
