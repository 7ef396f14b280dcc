package chat

import "sync"

// Channel 出站投递通道。Client 是唯一的生产实现；单测注入假通道。
type Channel interface {
	Push(payload []byte) error
	Close()
}

// Registry 在线会话注册表：userID -> 当前唯一通道。
// 所有操作仅做 map 读写，持锁期间不做任何 I/O。
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]Channel
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[int64]Channel)}
}

// Register 安装 userID 的当前通道，返回被顶替的旧通道（若有）。
// 旧通道不在这里关闭——由调用方在观察到顶替后自行收尾，
// 避免出现“客户端自以为在线、流量却被静默丢弃”的窗口。
func (r *Registry) Register(userID int64, ch Channel) (prev Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev = r.byUser[userID]
	r.byUser[userID] = ch
	return prev
}

// Lookup 返回 userID 当前在线通道。
func (r *Registry) Lookup(userID int64) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byUser[userID]
	return ch, ok
}

// Unregister 比较后移除：仅当表里仍是这条通道时才删。
// 防止迟到的断开回调误删并发顶替上来的新会话。
func (r *Registry) Unregister(userID int64, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byUser[userID]; ok && cur == ch {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// Len 当前在线会话数（调试/统计用）。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
