package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/sjson"

	"cdptap/internal/logger"
	"cdptap/internal/rules"
	"cdptap/pkg/intercept"
	"cdptap/pkg/model"
	"cdptap/pkg/traffic"
)

// Handler 事件处理器，负责协调规则匹配、处理动作执行和事件发送
type Handler struct {
	engine *rules.Engine
	events chan model.Event
	log    logger.Logger
}

// Config 配置选项
type Config struct {
	Engine *rules.Engine
	Events chan model.Event
	Logger logger.Logger
}

// New 创建事件处理器
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Handler{
		engine: cfg.Engine,
		events: cfg.Events,
		log:    l,
	}
}

// SetEngine 设置规则引擎
func (h *Handler) SetEngine(engine *rules.Engine) {
	h.engine = engine
}

// Handle 对一次被拦截的请求做出唯一的处理决定。
// 无命中规则时直接放行；处理命令发送失败时请求回到待处理状态，
// 这里记录错误并再尝试一次兜底放行。
func (h *Handler) Handle(ctx context.Context, target model.TargetID, req *intercept.PausedRequest) {
	start := time.Now()
	stage := string(req.Stage())

	status, _ := req.ResponseStatus()
	h.sendEvent(model.Event{Type: "intercepted", Target: target, URL: req.Request().URL, Method: req.Request().Method, Stage: stage, Status: status})
	h.log.Debug("开始处理拦截事件", "stage", stage, "url", req.Request().URL, "method", req.Request().Method)

	snap := snapshotRequest(req)
	var res *rules.Result
	if h.engine != nil {
		res = h.engine.Eval(h.buildCtx(ctx, req, snap))
	}
	if res == nil || res.Action == nil {
		h.passThrough(ctx, target, req)
		h.log.Debug("拦截事件处理完成，无匹配规则", "stage", stage, "duration", time.Since(start))
		return
	}

	a := res.Action
	if a.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(a.DelayMS) * time.Millisecond):
		case <-ctx.Done():
		}
	}

	var err error
	var outcome string
	switch {
	case a.Fail != nil:
		outcome = "failed"
		err = req.Abort(ctx, errorReason(a.Fail.Reason))
	case a.Respond != nil:
		outcome = "fulfilled"
		err = req.Fulfill(ctx, fulfillOptions(a.Respond))
	case a.Rewrite != nil:
		outcome = "mutated"
		if req.Stage() == intercept.StageResponse {
			err = h.applyResponseRewrite(ctx, req, a.Rewrite)
		} else {
			err = h.applyRequestRewrite(ctx, req, snap, a.Rewrite)
		}
	default:
		h.passThrough(ctx, target, req)
		return
	}

	evt := model.Event{Type: outcome, Rule: res.RuleID, Target: target, URL: req.Request().URL, Method: req.Request().Method, Stage: stage, Status: status}
	if err != nil {
		h.log.Err(err, "处理命令执行失败", "stage", stage, "url", req.Request().URL)
		evt.Type = "error"
		evt.Error = err.Error()
		h.sendEvent(evt)
		if !errors.Is(err, intercept.ErrAlreadyHandled) {
			h.passThrough(ctx, target, req)
		}
		return
	}
	h.sendEvent(evt)
	h.log.Debug("拦截事件处理完成", "stage", stage, "result", outcome, "duration", time.Since(start))
}

// passThrough 按阶段直接放行
func (h *Handler) passThrough(ctx context.Context, target model.TargetID, req *intercept.PausedRequest) {
	var err error
	if req.Stage() == intercept.StageResponse {
		err = req.ContinueResponse(ctx, nil)
	} else {
		err = req.Continue(ctx, nil)
	}
	if err != nil && !errors.Is(err, intercept.ErrAlreadyHandled) {
		h.log.Err(err, "放行失败", "url", req.Request().URL)
		h.sendEvent(model.Event{Type: "error", Target: target, URL: req.Request().URL, Error: err.Error()})
		return
	}
	h.sendEvent(model.Event{Type: "passed", Target: target, URL: req.Request().URL, Method: req.Request().Method, Stage: string(req.Stage())})
}

// applyRequestRewrite 在请求快照之上套用补丁后放行
func (h *Handler) applyRequestRewrite(ctx context.Context, req *intercept.PausedRequest, snap *traffic.Request, rw *model.Rewrite) error {
	ov := &intercept.ContinueOverrides{}

	if rw.URL != nil {
		ov.URL = *rw.URL
	} else if len(rw.Query) > 0 {
		if u, err := patchQuery(snap.URL, rw.Query); err == nil {
			ov.URL = u
		}
	}
	if rw.Method != nil {
		ov.Method = *rw.Method
	}

	if len(rw.Headers) > 0 {
		// 快照同时是规则匹配的输入，改写前先复制
		cur := snap.Headers.Clone()
		for k, v := range rw.Headers {
			if v == nil {
				cur.Del(k)
			} else {
				cur.Set(k, *v)
			}
		}
		ov.Headers = cur
	}

	if rw.Body != nil {
		if body, ok := patchBody(string(snap.Body), rw.Body); ok {
			ov.PostData = body
		}
	}
	return req.Continue(ctx, ov)
}

// applyResponseRewrite 响应阶段改写。仅改头部/状态码时用 continueResponse；
// 改写响应体时协议上只能取回原响应体后以合成响应完成
func (h *Handler) applyResponseRewrite(ctx context.Context, req *intercept.PausedRequest, rw *model.Rewrite) error {
	status, _ := req.ResponseStatus()
	if rw.Status != nil {
		status = *rw.Status
	}

	headers := make(map[string]any)
	for _, e := range req.ResponseHeaders() {
		headers[strings.ToLower(e.Name)] = e.Value
	}
	for k, v := range rw.Headers {
		if v == nil {
			delete(headers, strings.ToLower(k))
		} else {
			headers[strings.ToLower(k)] = *v
		}
	}

	if rw.Body == nil {
		return req.ContinueResponse(ctx, &intercept.ContinueResponseOverrides{Status: status, Headers: headers})
	}

	orig, err := req.ResponseBody(ctx)
	if err != nil {
		return err
	}
	body, ok := patchBody(string(orig), rw.Body)
	if !ok {
		body = orig
	}
	// 长度已变化，交给 fulfill 重新推导
	delete(headers, "content-length")
	return req.Fulfill(ctx, &intercept.FulfillOptions{Status: status, Headers: headers, Body: body})
}

// buildCtx 由流量快照构造规则匹配上下文，响应阶段仅在规则集
// 确有消息体条件时才取回响应体
func (h *Handler) buildCtx(ctx context.Context, req *intercept.PausedRequest, snap *traffic.Request) rules.Ctx {
	ec := rules.Ctx{
		URL:          snap.URL,
		Method:       snap.Method,
		ResourceType: snap.ResourceType,
		Headers:      snap.Headers,
		Query:        snap.Query,
		Cookies:      snap.Cookies,
		Body:         string(snap.Body),
		Stage:        string(req.Stage()),
	}
	if req.Stage() == intercept.StageResponse {
		resp := h.snapshotResponse(ctx, req, h.engine.NeedsBody(ec.Stage))
		ec.Headers = resp.Headers
		ec.Body = string(resp.Body)
	}
	return ec
}

// snapshotRequest 把拦截通知转换为中立请求模型，headers/query/cookies 键折叠为小写
func snapshotRequest(req *intercept.PausedRequest) *traffic.Request {
	r := req.Request()
	out := traffic.NewRequest()
	out.ID = string(req.ID())
	out.URL = r.URL
	out.Method = r.Method
	out.ResourceType = string(req.ResourceType())
	out.Headers = requestHeaders(req)
	if r.PostData != nil {
		out.Body = []byte(*r.PostData)
	}
	if u, err := url.Parse(r.URL); err == nil {
		for key, vals := range u.Query() {
			if len(vals) > 0 {
				out.Query[strings.ToLower(key)] = vals[0]
			}
		}
	}
	if c := out.Headers.Get("cookie"); c != "" {
		for name, val := range traffic.ParseCookie(c) {
			out.Cookies[strings.ToLower(name)] = val
		}
	}
	return out
}

// snapshotResponse 把响应阶段通知转换为中立响应模型，按需取回响应体
func (h *Handler) snapshotResponse(ctx context.Context, req *intercept.PausedRequest, withBody bool) *traffic.Response {
	out := traffic.NewResponse()
	if st, ok := req.ResponseStatus(); ok {
		out.StatusCode = st
	}
	for _, e := range req.ResponseHeaders() {
		out.Headers.Set(e.Name, e.Value)
	}
	if withBody {
		if body, err := req.ResponseBody(ctx); err == nil {
			out.Body = body
		}
	}
	return out
}

// requestHeaders 解析通知中的请求头为小写键映射
func requestHeaders(req *intercept.PausedRequest) traffic.Header {
	raw := map[string]string{}
	_ = json.Unmarshal(req.Request().Headers, &raw)
	out := make(traffic.Header, len(raw))
	for k, v := range raw {
		out.Set(k, v)
	}
	return out
}

// patchQuery 在原 URL 上补丁查询参数
func patchQuery(raw string, qpatch map[string]*string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range qpatch {
		if v == nil {
			q.Del(k)
		} else {
			q.Set(k, *v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// patchBody 按补丁类型改写请求/响应体
func patchBody(src string, p *model.BodyPatch) ([]byte, bool) {
	switch p.Type {
	case "base64":
		if len(p.Ops) > 0 {
			if s, ok := p.Ops[0].(string); ok {
				if b, err := base64.StdEncoding.DecodeString(s); err == nil {
					return b, true
				}
			}
		}
	case "text_regex":
		if len(p.Ops) >= 2 {
			pat, pOk := p.Ops[0].(string)
			rep, rOk := p.Ops[1].(string)
			if pOk && rOk {
				if re, err := regexp.Compile(pat); err == nil {
					return []byte(re.ReplaceAllString(src, rep)), true
				}
			}
		}
	case "json_set":
		// Ops 为 [path, value] 对的平铺列表
		out := src
		applied := false
		for i := 0; i+1 < len(p.Ops); i += 2 {
			path, ok := p.Ops[i].(string)
			if !ok {
				continue
			}
			if next, err := sjson.Set(out, path, p.Ops[i+1]); err == nil {
				out = next
				applied = true
			}
		}
		if applied {
			return []byte(out), true
		}
	}
	return nil, false
}

// fulfillOptions 由规则动作构造合成响应
func fulfillOptions(r *model.Respond) *intercept.FulfillOptions {
	opts := &intercept.FulfillOptions{
		Status:      r.Status,
		ContentType: r.ContentType,
		Headers:     r.Headers,
		BodyText:    r.Body,
	}
	if r.BodyBase64 != "" {
		if b, err := base64.StdEncoding.DecodeString(r.BodyBase64); err == nil {
			opts.Body = b
		}
	}
	return opts
}

// errorReasonNames 规则原因名到协议错误原因的映射
var errorReasonNames = map[string]network.ErrorReason{
	"Failed":               network.ErrorReasonFailed,
	"Aborted":              network.ErrorReasonAborted,
	"TimedOut":             network.ErrorReasonTimedOut,
	"AccessDenied":         network.ErrorReasonAccessDenied,
	"ConnectionClosed":     network.ErrorReasonConnectionClosed,
	"ConnectionReset":      network.ErrorReasonConnectionReset,
	"ConnectionRefused":    network.ErrorReasonConnectionRefused,
	"ConnectionAborted":    network.ErrorReasonConnectionAborted,
	"ConnectionFailed":     network.ErrorReasonConnectionFailed,
	"NameNotResolved":      network.ErrorReasonNameNotResolved,
	"InternetDisconnected": network.ErrorReasonInternetDisconnected,
	"AddressUnreachable":   network.ErrorReasonAddressUnreachable,
	"BlockedByClient":      network.ErrorReasonBlockedByClient,
	"BlockedByResponse":    network.ErrorReasonBlockedByResponse,
}

func errorReason(name string) network.ErrorReason {
	if r, ok := errorReasonNames[name]; ok {
		return r
	}
	return network.ErrorReasonFailed
}

// sendEvent 非阻塞发送事件，自动补充时间戳
func (h *Handler) sendEvent(evt model.Event) {
	if h.events == nil {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case h.events <- evt:
	default:
	}
}
