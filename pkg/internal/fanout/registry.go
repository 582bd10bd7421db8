// Package fanout 把文件变更推送到所属用户的每个在线连接.
//
// Registry 维护 用户 → 连接 的映射；Service 订阅变更流，清洗后按所有者投递.
// 投递是尽力而为的：单个连接发送失败不影响其他连接，断线期间的变更不补发.
package fanout

import (
	"sync"

	"github.com/yeisme/syncvault/pkg/metrics"
)

// Handle 一个在线连接.Send 不能阻塞，发送队列满时直接返回错误.
type Handle interface {
	ID() string
	Send(ev ChangeEvent) error
}

// Registry 用户到连接集合的映射，并发安全.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Handle
	owner  map[string]string
}

// NewRegistry 创建空的连接表.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]Handle),
		owner:  make(map[string]string),
	}
}

// Register 登记连接.同一连接已属于其他用户时转移到 userID 名下.
func (r *Registry) Register(userID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := h.ID()
	if prev, ok := r.owner[id]; ok {
		if prev == userID {
			r.byUser[userID][id] = h
			return
		}

		r.remove(prev, id)
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]Handle)
		r.byUser[userID] = set
	}

	set[id] = h
	r.owner[id] = userID

	metrics.FanoutConnections.Inc()
}

// Unregister 注销连接，连接不存在或不属于 userID 时不做任何事.
func (r *Registry) Unregister(userID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner[h.ID()] != userID {
		return
	}

	r.remove(userID, h.ID())
}

func (r *Registry) remove(userID, id string) {
	set := r.byUser[userID]
	if _, ok := set[id]; !ok {
		return
	}

	delete(set, id)
	delete(r.owner, id)

	if len(set) == 0 {
		delete(r.byUser, userID)
	}

	metrics.FanoutConnections.Dec()
}

// ConnectionsFor 返回用户当前连接的快照.
func (r *Registry) ConnectionsFor(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	out := make([]Handle, 0, len(set))

	for _, h := range set {
		out = append(out, h)
	}

	return out
}

// Stats 返回在线用户数与连接数.
func (r *Registry) Stats() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser), len(r.owner)
}
