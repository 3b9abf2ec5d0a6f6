package tracelog

import "sync"

// Hub 将追踪消息广播给所有订阅者（websocket连接）
// 订阅者缓冲区满时直接丢弃该条消息，训练线程永远不会被阻塞
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan string
	nextID  int
	bufSize int
	closed  bool
}

// NewHub 创建广播器，bufSize为每个订阅者的缓冲区大小
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{
		subs:    make(map[int]chan string),
		bufSize: bufSize,
	}
}

// Subscribe 新增订阅者，返回消息通道和取消订阅函数
func (h *Hub) Subscribe() (<-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan string, h.bufSize)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Publish 广播一条消息
func (h *Hub) Publish(msg string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// AppendText 使Hub可以直接作为Sink使用
func (h *Hub) AppendText(s string) {
	h.Publish(s)
}

// Subscribers 当前订阅者数量
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close 关闭所有订阅通道
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
