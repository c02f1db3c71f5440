package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	cdpm "cdptap/internal/cdp"
	"cdptap/internal/logger"
	"cdptap/pkg/model"
)

// Manager 全局会话管理器
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.SessionID]*Session),
		log:      l,
	}
}

// Create 创建并注册新会话
func (m *Manager) Create(cfg model.SessionConfig) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := model.SessionID(uuid.NewString())
	opts := cdpm.Options{
		URLPattern:       cfg.URLPattern,
		RequestStage:     cfg.RequestStage,
		ResponseStage:    cfg.ResponseStage,
		ProcessTimeoutMS: cfg.ProcessTimeoutMS,
	}
	s := New(id, cfg.DevToolsURL, opts, m.log)
	m.sessions[id] = s
	m.log.Info("创建业务会话", "sessionID", string(id), "devtools", cfg.DevToolsURL)
	return s
}

// Get 获取会话
func (m *Manager) Get(id model.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete 关闭并销毁会话
func (m *Manager) Delete(id model.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	m.log.Info("销毁业务会话", "sessionID", string(id))
	return s.Close()
}

// List 返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}
