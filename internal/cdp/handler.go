package cdp

import (
	"context"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"

	"cdptap/pkg/intercept"
)

// consume 持续接收拦截事件并分发处理
func (m *Manager) consume() {
	rp, err := m.client.Fetch.RequestPaused(m.ctx)
	if err != nil {
		m.log.Err(err, "订阅拦截事件流失败", "target", string(m.target))
		return
	}
	defer rp.Close()

	m.log.Info("开始消费拦截事件流", "target", string(m.target))
	for {
		ev, err := rp.Recv()
		if err != nil {
			if m.ctx.Err() == nil {
				m.log.Err(err, "接收拦截事件失败", "target", string(m.target))
			}
			return
		}
		go m.dispatch(ev)
	}
}

// dispatch 处理单次拦截事件，超时由处理上下文兜底
func (m *Manager) dispatch(ev *fetch.RequestPausedReply) {
	to := m.opts.ProcessTimeoutMS
	if to <= 0 {
		to = 3000
	}
	ctx, cancel := context.WithTimeout(m.ctx, time.Duration(to)*time.Millisecond)
	defer cancel()

	req := intercept.NewPausedRequest(m.session, ev)
	if m.handler == nil {
		m.degradeAndContinue(ctx, req, "无事件处理器")
		return
	}
	m.handler.Handle(ctx, m.target, req)
}

// degradeAndContinue 统一的降级处理：直接放行请求
func (m *Manager) degradeAndContinue(ctx context.Context, req *intercept.PausedRequest, reason string) {
	m.log.Warn("执行降级策略：直接放行", "target", string(m.target), "reason", reason, "requestID", string(req.ID()))
	var err error
	if req.Stage() == intercept.StageResponse {
		err = req.ContinueResponse(ctx, nil)
	} else {
		err = req.Continue(ctx, nil)
	}
	if err != nil {
		m.log.Err(err, "降级放行失败", "requestID", string(req.ID()))
	}
}
