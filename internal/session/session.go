package session

import (
	"context"

	cdpm "cdptap/internal/cdp"
	"cdptap/internal/handler"
	"cdptap/internal/logger"
	"cdptap/internal/rules"
	"cdptap/pkg/model"
)

// Session 一个业务会话：一条 devtools 连接及其规则引擎和事件流
type Session struct {
	ID     model.SessionID
	engine *rules.Engine
	mgr    *cdpm.Manager
	events chan model.Event
	log    logger.Logger
}

// New 创建会话
func New(id model.SessionID, devtoolsURL string, opts cdpm.Options, l logger.Logger) *Session {
	if l == nil {
		l = logger.NewNop()
	}
	l = l.With("sessionID", string(id))
	events := make(chan model.Event, 256)
	engine := rules.New(model.RuleSet{})
	h := handler.New(handler.Config{Engine: engine, Events: events, Logger: l})
	return &Session{
		ID:     id,
		engine: engine,
		mgr:    cdpm.New(devtoolsURL, opts, h, l),
		events: events,
		log:    l,
	}
}

// ListTargets 列出可附加目标
func (s *Session) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	return s.mgr.ListTargets(ctx)
}

// Attach 附加目标
func (s *Session) Attach(target model.TargetID) error {
	return s.mgr.AttachTarget(target)
}

// Enable 启用拦截
func (s *Session) Enable() error { return s.mgr.Enable() }

// Disable 停用拦截
func (s *Session) Disable() error { return s.mgr.Disable() }

// LoadRules 加载规则集
func (s *Session) LoadRules(rs model.RuleSet) {
	s.engine.Update(rs)
	s.log.Info("规则集已加载", "rules", len(rs.Rules))
}

// Stats 返回规则引擎统计
func (s *Session) Stats() model.EngineStats { return s.engine.Stats() }

// Events 返回事件流
func (s *Session) Events() <-chan model.Event { return s.events }

// Close 断开连接并结束会话
func (s *Session) Close() error {
	return s.mgr.Detach()
}
