package cdp

import (
	"context"
	"fmt"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/rpcc"

	"cdptap/internal/handler"
	"cdptap/internal/logger"
	"cdptap/pkg/intercept"
	"cdptap/pkg/model"
)

// Options 拦截选项
type Options struct {
	URLPattern       string // 空值等价 "*"
	RequestStage     bool
	ResponseStage    bool
	ProcessTimeoutMS int
}

// Manager 管理单个 devtools 目标的连接与拦截事件流
type Manager struct {
	devtoolsURL string
	opts        Options
	conn        *rpcc.Conn
	client      *cdp.Client
	session     intercept.Session
	ctx         context.Context
	cancel      context.CancelFunc
	target      model.TargetID
	handler     *handler.Handler
	log         logger.Logger
}

// New 创建管理器
func New(devtoolsURL string, opts Options, h *handler.Handler, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{devtoolsURL: devtoolsURL, opts: opts, handler: h, log: l}
}

// ListTargets 列出可附加的目标
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	dt := devtool.New(m.devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, model.TargetInfo{
			ID:    model.TargetID(t.ID),
			Type:  string(t.Type),
			URL:   t.URL,
			Title: t.Title,
		})
	}
	return out, nil
}

// AttachTarget 附加到指定目标，target 为空时附加第一个目标
func (m *Manager) AttachTarget(target model.TargetID) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.ctx = ctx
	m.cancel = cancel
	dt := devtool.New(m.devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for i := range targets {
		if string(targets[i].ID) == string(target) || target == "" {
			sel = targets[i]
			break
		}
	}
	if sel == nil {
		cancel()
		return fmt.Errorf("target %s not found", target)
	}
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return fmt.Errorf("dial %s: %w", sel.WebSocketDebuggerURL, err)
	}
	m.conn = conn
	m.client = cdp.NewClient(conn)
	m.session = intercept.NewConnSession(conn)
	m.target = model.TargetID(sel.ID)
	m.log.Info("已附加目标", "target", string(m.target), "url", sel.URL)
	return nil
}

// Detach 断开连接
func (m *Manager) Detach() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

// Enable 启用拦截并开始消费事件流
func (m *Manager) Enable() error {
	if m.client == nil {
		return fmt.Errorf("not attached")
	}
	if err := m.client.Network.Enable(m.ctx, nil); err != nil {
		return fmt.Errorf("network enable: %w", err)
	}
	p := m.opts.URLPattern
	if p == "" {
		p = "*"
	}
	var patterns []fetch.RequestPattern
	if m.opts.RequestStage || !m.opts.ResponseStage {
		patterns = append(patterns, fetch.RequestPattern{URLPattern: &p, RequestStage: fetch.RequestStageRequest})
	}
	if m.opts.ResponseStage {
		patterns = append(patterns, fetch.RequestPattern{URLPattern: &p, RequestStage: fetch.RequestStageResponse})
	}
	if err := m.client.Fetch.Enable(m.ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		return fmt.Errorf("fetch enable: %w", err)
	}
	go m.consume()
	return nil
}

// Disable 停用拦截
func (m *Manager) Disable() error {
	if m.client == nil {
		return fmt.Errorf("not attached")
	}
	return m.client.Fetch.Disable(m.ctx)
}
