package intercept

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"

	"cdptap/pkg/wire"
)

// ErrAlreadyHandled 表示请求已被处理，重复处理属于调用方逻辑错误，不可重试
var ErrAlreadyHandled = errors.New("intercept: request already handled")

// Fetch 域命令名
const (
	methodContinueRequest  = "Fetch.continueRequest"
	methodFailRequest      = "Fetch.failRequest"
	methodFulfillRequest   = "Fetch.fulfillRequest"
	methodContinueResponse = "Fetch.continueResponse"
	methodGetResponseBody  = "Fetch.getResponseBody"
)

// Stage 拦截阶段
type Stage string

const (
	StageRequest  Stage = "request"
	StageResponse Stage = "response"
)

// PausedRequest 封装一次 Fetch.requestPaused 通知。
// 除 handled 标志之外所有字段在构造后不再变化；每个实例至多成功处理一次，
// 处理命令发送失败时回退到待处理状态，允许调用方重试。
type PausedRequest struct {
	session Session
	ev      *fetch.RequestPausedReply
	handled atomic.Bool
}

// NewPausedRequest 由一次拦截通知构造实体
func NewPausedRequest(session Session, ev *fetch.RequestPausedReply) *PausedRequest {
	return &PausedRequest{session: session, ev: ev}
}

// ID 返回远端分配的拦截请求标识
func (r *PausedRequest) ID() fetch.RequestID { return r.ev.RequestID }

// NetworkID 返回关联的网络请求标识，尚无底层网络请求时返回 false
func (r *PausedRequest) NetworkID() (network.RequestID, bool) {
	if r.ev.NetworkID == nil {
		return "", false
	}
	return *r.ev.NetworkID, true
}

// Request 返回原始请求描述
func (r *PausedRequest) Request() network.Request { return r.ev.Request }

// FrameID 返回发起请求的帧标识
func (r *PausedRequest) FrameID() page.FrameID { return r.ev.FrameID }

// ResourceType 返回资源类别
func (r *PausedRequest) ResourceType() network.ResourceType { return r.ev.ResourceType }

// Handled 返回请求是否已被处理
func (r *PausedRequest) Handled() bool { return r.handled.Load() }

// Stage 返回拦截阶段，携带响应状态码的通知处于响应阶段
func (r *PausedRequest) Stage() Stage {
	if r.ev.ResponseStatusCode != nil {
		return StageResponse
	}
	return StageRequest
}

// ResponseStatus 返回响应阶段的状态码，请求阶段返回 false
func (r *PausedRequest) ResponseStatus() (int, bool) {
	if r.ev.ResponseStatusCode == nil {
		return 0, false
	}
	return *r.ev.ResponseStatusCode, true
}

// ResponseHeaders 返回响应阶段的原始响应头
func (r *PausedRequest) ResponseHeaders() []fetch.HeaderEntry { return r.ev.ResponseHeaders }

// ContinueOverrides 放行请求时的可选覆盖项，零值字段沿用原始请求的对应值
type ContinueOverrides struct {
	URL      string
	Method   string
	PostData []byte
	Headers  map[string]string
}

// Continue 放行请求，可选地覆盖 URL、方法、请求体和头部
func (r *PausedRequest) Continue(ctx context.Context, ov *ContinueOverrides) error {
	if err := r.begin(); err != nil {
		return err
	}
	args := &fetch.ContinueRequestArgs{RequestID: r.ev.RequestID}
	if ov != nil {
		if ov.URL != "" {
			args.URL = &ov.URL
		}
		if ov.Method != "" {
			args.Method = &ov.Method
		}
		if ov.PostData != nil {
			args.PostData = ov.PostData
		}
		if ov.Headers != nil {
			args.Headers = wire.FlattenStringHeaders(ov.Headers)
		}
	}
	return r.finish(methodContinueRequest, r.session.Send(ctx, methodContinueRequest, args, nil))
}

// Abort 以给定错误原因中止请求，原因为空时使用通用失败原因
func (r *PausedRequest) Abort(ctx context.Context, reason network.ErrorReason) error {
	if err := r.begin(); err != nil {
		return err
	}
	if reason == "" {
		reason = network.ErrorReasonFailed
	}
	args := &fetch.FailRequestArgs{RequestID: r.ev.RequestID, ErrorReason: reason}
	return r.finish(methodFailRequest, r.session.Send(ctx, methodFailRequest, args, nil))
}

// FulfillOptions 合成响应描述。Status 为零时取 200；
// Body 与 BodyText 二选一，Body 优先
type FulfillOptions struct {
	Status      int
	ContentType string
	Headers     map[string]any
	Body        []byte
	BodyText    string
}

// Fulfill 以合成响应完成请求
func (r *PausedRequest) Fulfill(ctx context.Context, opts *FulfillOptions) error {
	if err := r.begin(); err != nil {
		return err
	}
	if opts == nil {
		opts = &FulfillOptions{}
	}
	args := marshalFulfill(r.ev.RequestID, opts)
	return r.finish(methodFulfillRequest, r.session.Send(ctx, methodFulfillRequest, args, nil))
}

// ContinueResponseOverrides 响应阶段放行时的可选覆盖项
type ContinueResponseOverrides struct {
	Status  int
	Headers map[string]any
}

// ContinueResponse 放行响应阶段的拦截，可选地覆盖状态码和响应头
func (r *PausedRequest) ContinueResponse(ctx context.Context, ov *ContinueResponseOverrides) error {
	if err := r.begin(); err != nil {
		return err
	}
	args := &fetch.ContinueResponseArgs{RequestID: r.ev.RequestID}
	if ov != nil {
		if ov.Status > 0 {
			args.ResponseCode = &ov.Status
			if p, ok := wire.StatusPhrase(ov.Status); ok {
				args.ResponsePhrase = &p
			}
		}
		if ov.Headers != nil {
			args.ResponseHeaders = wire.FoldHeaders(ov.Headers).Entries()
		}
	}
	return r.finish(methodContinueResponse, r.session.Send(ctx, methodContinueResponse, args, nil))
}

// ResponseBody 获取响应阶段的响应体，不改变处理状态；请求已处理后不可再取
func (r *PausedRequest) ResponseBody(ctx context.Context) ([]byte, error) {
	if r.handled.Load() {
		return nil, ErrAlreadyHandled
	}
	args := &fetch.GetResponseBodyArgs{RequestID: r.ev.RequestID}
	var reply fetch.GetResponseBodyReply
	if err := r.session.Send(ctx, methodGetResponseBody, args, &reply); err != nil {
		return nil, fmt.Errorf("intercept: %s %s: %w", methodGetResponseBody, r.ev.RequestID, err)
	}
	if reply.Base64Encoded {
		return base64.StdEncoding.DecodeString(reply.Body)
	}
	return []byte(reply.Body), nil
}

// begin 原子地完成 Pending→handled 迁移，发送前置位保证每个实例
// 至多有一条处理命令到达传输层
func (r *PausedRequest) begin() error {
	if !r.handled.CompareAndSwap(false, true) {
		return ErrAlreadyHandled
	}
	return nil
}

// finish 发送失败时回退到待处理状态并包装错误，成功时保持终态
func (r *PausedRequest) finish(method string, err error) error {
	if err != nil {
		r.handled.Store(false)
		return fmt.Errorf("intercept: %s %s: %w", method, r.ev.RequestID, err)
	}
	return nil
}

// marshalFulfill 构造 Fetch.fulfillRequest 参数：
// 头部折叠为小写后，显式 content-type 覆盖同名头，仅在缺失时按响应体
// 字节长度补充 content-length，状态短语取自固定映射、未知码缺省
func marshalFulfill(id fetch.RequestID, opts *FulfillOptions) *fetch.FulfillRequestArgs {
	status := opts.Status
	if status == 0 {
		status = 200
	}

	var body []byte
	switch {
	case opts.Body != nil:
		body = opts.Body
	case opts.BodyText != "":
		body = []byte(opts.BodyText)
	}

	headers := wire.FoldHeaders(opts.Headers)
	if opts.ContentType != "" {
		headers.Set("content-type", opts.ContentType)
	}
	if body != nil && !headers.Has("content-length") {
		headers.Set("content-length", strconv.Itoa(len(body)))
	}

	args := &fetch.FulfillRequestArgs{
		RequestID:       id,
		ResponseCode:    status,
		ResponseHeaders: headers.Entries(),
	}
	if p, ok := wire.StatusPhrase(status); ok {
		args.ResponsePhrase = &p
	}
	if body != nil {
		args.Body = body
	}
	return args
}
