package api

import (
	"context"
	"fmt"

	"cdptap/internal/logger"
	"cdptap/internal/session"
	"cdptap/pkg/model"
)

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(cfg model.SessionConfig) (model.SessionID, error)

	// StopSession 停止会话
	StopSession(id model.SessionID) error

	// ListTargets 列出目标
	ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error)

	// AttachTarget 附加目标
	AttachTarget(id model.SessionID, target model.TargetID) error

	// EnableInterception 启用拦截
	EnableInterception(id model.SessionID) error

	// DisableInterception 禁用拦截
	DisableInterception(id model.SessionID) error

	// LoadRules 加载规则集
	LoadRules(id model.SessionID, rs model.RuleSet) error

	// GetRuleStats 获取规则统计信息
	GetRuleStats(id model.SessionID) (model.EngineStats, error)

	// SubscribeEvents 订阅事件
	SubscribeEvents(id model.SessionID) (<-chan model.Event, error)
}

// NewService 创建并返回服务接口实现
func NewService(l logger.Logger) Service {
	return &service{mgr: session.NewManager(l)}
}

type service struct {
	mgr *session.Manager
}

func (s *service) StartSession(cfg model.SessionConfig) (model.SessionID, error) {
	if cfg.DevToolsURL == "" {
		return "", fmt.Errorf("devtools url required")
	}
	return s.mgr.Create(cfg).ID, nil
}

func (s *service) StopSession(id model.SessionID) error {
	return s.mgr.Delete(id)
}

func (s *service) ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error) {
	sess, ok := s.mgr.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return sess.ListTargets(ctx)
}

func (s *service) AttachTarget(id model.SessionID, target model.TargetID) error {
	sess, ok := s.mgr.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	return sess.Attach(target)
}

func (s *service) EnableInterception(id model.SessionID) error {
	sess, ok := s.mgr.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	return sess.Enable()
}

func (s *service) DisableInterception(id model.SessionID) error {
	sess, ok := s.mgr.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	return sess.Disable()
}

func (s *service) LoadRules(id model.SessionID, rs model.RuleSet) error {
	sess, ok := s.mgr.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	sess.LoadRules(rs)
	return nil
}

func (s *service) GetRuleStats(id model.SessionID) (model.EngineStats, error) {
	sess, ok := s.mgr.Get(id)
	if !ok {
		return model.EngineStats{}, fmt.Errorf("session %s not found", id)
	}
	return sess.Stats(), nil
}

func (s *service) SubscribeEvents(id model.SessionID) (<-chan model.Event, error) {
	sess, ok := s.mgr.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return sess.Events(), nil
}
