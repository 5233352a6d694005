package scan

import "sync"

// Registry 按向导会话 ID 管理扫码会话，同一个向导同时最多一个
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Attach 登记新的扫码会话，已有的旧会话先释放（重新进入扫码）
func (r *Registry) Attach(key string, s *Session) {
	r.mu.Lock()
	old := r.sessions[key]
	r.sessions[key] = s
	r.mu.Unlock()

	if old != nil && old != s {
		old.Release()
	}
}

// Detach Run 结束后移除登记，只移除同一个会话，避免误删重新进入后的新会话
func (r *Registry) Detach(key string, s *Session) {
	r.mu.Lock()
	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	s.Release()
}

// Release 释放并移除
func (r *Registry) Release(key string) {
	r.mu.Lock()
	s := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if s != nil {
		s.Release()
	}
}

// ReleaseAll 服务关闭时调用
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Release()
	}
}

// Active 当前登记的会话数
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
