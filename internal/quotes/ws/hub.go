package ws

import (
	"sync"
)

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Conn]struct{} // topic -> set(conn)
	last map[string][]byte             // topic -> 最新 payload（新订阅立即回放）
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*Conn]struct{}, 1024),
		last: make(map[string][]byte, 1024),
	}
}

func (h *Hub) Subscribe(c *Conn, topics []string) {
	type snap struct {
		topic string
		data  []byte
	}
	// 记录订阅和取快照放在同一把锁里，避免订阅后立刻 publish 却两头都拿不到
	h.mu.Lock()
	snaps := make([]snap, 0, len(topics))
	for _, t := range topics {
		set := h.subs[t]
		if set == nil {
			set = make(map[*Conn]struct{}, 16)
			h.subs[t] = set
		}
		set[c] = struct{}{}
		if b := h.last[t]; b != nil {
			snaps = append(snaps, snap{t, b})
		}
	}
	h.mu.Unlock()

	for _, s := range snaps {
		_ = c.Offer(s.topic, s.data)
	}
}

func (h *Hub) Unsubscribe(c *Conn, topics []string) {
	h.mu.Lock()
	for _, t := range topics {
		if set := h.subs[t]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subs, t)
			}
		}
	}
	h.mu.Unlock()
}

func (h *Hub) RemoveConn(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, m := range h.subs {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, topic)
		}
	}
}

// Conns 当前订阅了 topic 的连接数
func (h *Hub) Conns(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Publish 对每个连接都是非阻塞 Offer，慢客户端不会卡住广播
func (h *Hub) Publish(topic string, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	h.mu.Lock()
	h.last[topic] = cp
	conns := make([]*Conn, 0, len(h.subs[topic]))
	for c := range h.subs[topic] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Offer(topic, cp)
	}
}
