package intercept

import (
	"context"
	"errors"
	"testing"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

type sentCall struct {
	method string
	args   any
}

type fakeSession struct {
	calls []sentCall
	err   error
	reply func(method string, reply any)
}

func (f *fakeSession) Send(ctx context.Context, method string, args, reply any) error {
	f.calls = append(f.calls, sentCall{method: method, args: args})
	if f.err != nil {
		return f.err
	}
	if f.reply != nil {
		f.reply(method, reply)
	}
	return nil
}

func newPaused(s Session) *PausedRequest {
	return NewPausedRequest(s, &fetch.RequestPausedReply{
		RequestID: "interception-job-1",
		Request:   network.Request{URL: "https://example.com/a", Method: "GET"},
	})
}

func TestResolveOnceOnly(t *testing.T) {
	ops := map[string]func(r *PausedRequest, ctx context.Context) error{
		"continue": func(r *PausedRequest, ctx context.Context) error { return r.Continue(ctx, nil) },
		"abort":    func(r *PausedRequest, ctx context.Context) error { return r.Abort(ctx, "") },
		"fulfill":  func(r *PausedRequest, ctx context.Context) error { return r.Fulfill(ctx, nil) },
	}
	for name, first := range ops {
		fs := &fakeSession{}
		r := newPaused(fs)
		if err := first(r, context.Background()); err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !r.Handled() {
			t.Fatalf("%s: expected handled after success", name)
		}
		for other, op := range ops {
			if err := op(r, context.Background()); !errors.Is(err, ErrAlreadyHandled) {
				t.Fatalf("%s then %s: want ErrAlreadyHandled, got %v", name, other, err)
			}
		}
		if len(fs.calls) != 1 {
			t.Fatalf("%s: want exactly 1 command sent, got %d", name, len(fs.calls))
		}
	}
}

func TestFailedSendRevertsToPending(t *testing.T) {
	ops := map[string]func(r *PausedRequest, ctx context.Context) error{
		"continue": func(r *PausedRequest, ctx context.Context) error { return r.Continue(ctx, nil) },
		"abort":    func(r *PausedRequest, ctx context.Context) error { return r.Abort(ctx, "") },
		"fulfill":  func(r *PausedRequest, ctx context.Context) error { return r.Fulfill(ctx, nil) },
	}
	for name, op := range ops {
		fs := &fakeSession{err: errors.New("websocket: close 1006")}
		r := newPaused(fs)

		err := op(r, context.Background())
		if err == nil || errors.Is(err, ErrAlreadyHandled) {
			t.Fatalf("%s: want transport error, got %v", name, err)
		}
		if r.Handled() {
			t.Fatalf("%s: handled must revert after send failure", name)
		}

		// 回到待处理状态后允许重试
		fs.err = nil
		if err := op(r, context.Background()); err != nil {
			t.Fatalf("%s: retry after revert: %v", name, err)
		}
		if !r.Handled() {
			t.Fatalf("%s: expected handled after retry success", name)
		}
		if len(fs.calls) != 2 {
			t.Fatalf("%s: want 2 commands, got %d", name, len(fs.calls))
		}
	}
}

func TestContinueNoOverrides(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	if err := r.Continue(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if fs.calls[0].method != "Fetch.continueRequest" {
		t.Fatalf("unexpected method %s", fs.calls[0].method)
	}
	args := fs.calls[0].args.(*fetch.ContinueRequestArgs)
	if args.RequestID != "interception-job-1" {
		t.Fatalf("unexpected request id %s", args.RequestID)
	}
	if args.URL != nil || args.Method != nil || args.PostData != nil || args.Headers != nil {
		t.Fatalf("overrides must be absent: %+v", args)
	}
}

func TestContinueWithOverrides(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	err := r.Continue(context.Background(), &ContinueOverrides{
		URL:      "https://example.com/b",
		Method:   "POST",
		PostData: []byte("k=v"),
		Headers:  map[string]string{"X-Patched": "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	args := fs.calls[0].args.(*fetch.ContinueRequestArgs)
	if args.URL == nil || *args.URL != "https://example.com/b" {
		t.Fatalf("url override lost: %+v", args.URL)
	}
	if args.Method == nil || *args.Method != "POST" {
		t.Fatalf("method override lost: %+v", args.Method)
	}
	if len(args.PostData) == 0 {
		t.Fatal("post data override must produce a body")
	}
	if len(args.Headers) != 1 || args.Headers[0].Name != "x-patched" || args.Headers[0].Value != "1" {
		t.Fatalf("unexpected headers: %+v", args.Headers)
	}
}

func TestAbortDefaultReason(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	if err := r.Abort(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if fs.calls[0].method != "Fetch.failRequest" {
		t.Fatalf("unexpected method %s", fs.calls[0].method)
	}
	args := fs.calls[0].args.(*fetch.FailRequestArgs)
	if args.ErrorReason != network.ErrorReasonFailed {
		t.Fatalf("want default Failed reason, got %s", args.ErrorReason)
	}
}

func TestAbortExplicitReason(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	if err := r.Abort(context.Background(), network.ErrorReasonBlockedByClient); err != nil {
		t.Fatal(err)
	}
	args := fs.calls[0].args.(*fetch.FailRequestArgs)
	if args.ErrorReason != network.ErrorReasonBlockedByClient {
		t.Fatalf("unexpected reason %s", args.ErrorReason)
	}
}

func TestFulfillStatusPhrase(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	if err := r.Fulfill(context.Background(), &FulfillOptions{Status: 404}); err != nil {
		t.Fatal(err)
	}
	args := fs.calls[0].args.(*fetch.FulfillRequestArgs)
	if args.ResponseCode != 404 {
		t.Fatalf("unexpected status %d", args.ResponseCode)
	}
	if args.ResponsePhrase == nil || *args.ResponsePhrase != "Not Found" {
		t.Fatalf("want Not Found phrase, got %v", args.ResponsePhrase)
	}
}

func TestFulfillUnknownStatusOmitsPhrase(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	if err := r.Fulfill(context.Background(), &FulfillOptions{Status: 999}); err != nil {
		t.Fatal(err)
	}
	args := fs.calls[0].args.(*fetch.FulfillRequestArgs)
	if args.ResponsePhrase != nil {
		t.Fatalf("phrase must be absent for unknown status, got %q", *args.ResponsePhrase)
	}
}

func TestFulfillDefaultsTo200(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	if err := r.Fulfill(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	args := fs.calls[0].args.(*fetch.FulfillRequestArgs)
	if args.ResponseCode != 200 {
		t.Fatalf("want default 200, got %d", args.ResponseCode)
	}
	if args.ResponsePhrase == nil || *args.ResponsePhrase != "OK" {
		t.Fatalf("want OK phrase, got %v", args.ResponsePhrase)
	}
	if args.Body != nil {
		t.Fatal("body must be absent when not supplied")
	}
}

func headerValue(entries []fetch.HeaderEntry, name string) (string, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

func TestFulfillDerivesContentLength(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	err := r.Fulfill(context.Background(), &FulfillOptions{
		Headers:  map[string]any{"X-Test": "a"},
		BodyText: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	args := fs.calls[0].args.(*fetch.FulfillRequestArgs)
	if v, ok := headerValue(args.ResponseHeaders, "content-length"); !ok || v != "5" {
		t.Fatalf("want content-length 5, got %q (present=%v)", v, ok)
	}
	if v, ok := headerValue(args.ResponseHeaders, "x-test"); !ok || v != "a" {
		t.Fatalf("caller header lost: %q (present=%v)", v, ok)
	}
	if string(args.Body) != "hello" {
		t.Fatalf("unexpected body %q", args.Body)
	}
}

func TestFulfillKeepsExplicitContentLength(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	err := r.Fulfill(context.Background(), &FulfillOptions{
		Headers:  map[string]any{"Content-Length": "999"},
		BodyText: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	args := fs.calls[0].args.(*fetch.FulfillRequestArgs)
	if v, _ := headerValue(args.ResponseHeaders, "content-length"); v != "999" {
		t.Fatalf("explicit content-length must win, got %q", v)
	}
}

func TestFulfillContentTypeOverrideWins(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	err := r.Fulfill(context.Background(), &FulfillOptions{
		ContentType: "application/json",
		Headers:     map[string]any{"Content-Type": "text/plain"},
	})
	if err != nil {
		t.Fatal(err)
	}
	args := fs.calls[0].args.(*fetch.FulfillRequestArgs)
	if v, _ := headerValue(args.ResponseHeaders, "content-type"); v != "application/json" {
		t.Fatalf("content-type override must win, got %q", v)
	}
	n := 0
	for _, e := range args.ResponseHeaders {
		if e.Name == "content-type" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("want single content-type entry, got %d", n)
	}
}

func TestFulfillFoldsHeaderCase(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	err := r.Fulfill(context.Background(), &FulfillOptions{
		Headers: map[string]any{"X-Test": "a", "x-test": "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	args := fs.calls[0].args.(*fetch.FulfillRequestArgs)
	n := 0
	for _, e := range args.ResponseHeaders {
		if e.Name == "x-test" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("case variants must collapse to one entry, got %d", n)
	}
}

func TestFulfillBinaryBodyWins(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	err := r.Fulfill(context.Background(), &FulfillOptions{
		Body:     []byte{0x1, 0x2, 0x3},
		BodyText: "ignored",
	})
	if err != nil {
		t.Fatal(err)
	}
	args := fs.calls[0].args.(*fetch.FulfillRequestArgs)
	if len(args.Body) != 3 {
		t.Fatalf("binary body must take precedence, got %v", args.Body)
	}
	if v, _ := headerValue(args.ResponseHeaders, "content-length"); v != "3" {
		t.Fatalf("content-length must match binary body, got %q", v)
	}
}

func TestContinueResponse(t *testing.T) {
	fs := &fakeSession{}
	r := newPaused(fs)
	err := r.ContinueResponse(context.Background(), &ContinueResponseOverrides{
		Status:  204,
		Headers: map[string]any{"X-Mut": "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if fs.calls[0].method != "Fetch.continueResponse" {
		t.Fatalf("unexpected method %s", fs.calls[0].method)
	}
	args := fs.calls[0].args.(*fetch.ContinueResponseArgs)
	if args.ResponseCode == nil || *args.ResponseCode != 204 {
		t.Fatalf("status override lost: %+v", args.ResponseCode)
	}
	if args.ResponsePhrase == nil || *args.ResponsePhrase != "No Content" {
		t.Fatalf("unexpected phrase %v", args.ResponsePhrase)
	}
	if !r.Handled() {
		t.Fatal("continueResponse is a terminal resolution")
	}
}

func TestResponseBody(t *testing.T) {
	fs := &fakeSession{reply: func(method string, reply any) {
		if method == "Fetch.getResponseBody" {
			rp := reply.(*fetch.GetResponseBodyReply)
			rp.Body = "aGVsbG8="
			rp.Base64Encoded = true
		}
	}}
	r := newPaused(fs)
	body, err := r.ResponseBody(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
	if r.Handled() {
		t.Fatal("fetching the body must not resolve the request")
	}

	if err := r.Continue(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ResponseBody(context.Background()); !errors.Is(err, ErrAlreadyHandled) {
		t.Fatalf("want ErrAlreadyHandled after resolution, got %v", err)
	}
}

func TestAccessors(t *testing.T) {
	status := 302
	netID := network.RequestID("net-9")
	ev := &fetch.RequestPausedReply{
		RequestID:          "job-2",
		NetworkID:          &netID,
		Request:            network.Request{URL: "https://example.com/x", Method: "PUT"},
		FrameID:            "frame-1",
		ResourceType:       network.ResourceTypeXHR,
		ResponseStatusCode: &status,
	}
	r := NewPausedRequest(&fakeSession{}, ev)
	if r.ID() != "job-2" || r.FrameID() != "frame-1" {
		t.Fatalf("identity accessors mismatch: %s %s", r.ID(), r.FrameID())
	}
	if id, ok := r.NetworkID(); !ok || id != "net-9" {
		t.Fatalf("network id mismatch: %s %v", id, ok)
	}
	if r.Request().Method != "PUT" || r.ResourceType() != network.ResourceTypeXHR {
		t.Fatal("request accessors mismatch")
	}
	if r.Stage() != StageResponse {
		t.Fatalf("want response stage, got %s", r.Stage())
	}
	if st, ok := r.ResponseStatus(); !ok || st != 302 {
		t.Fatalf("response status mismatch: %d %v", st, ok)
	}
	if r.Handled() {
		t.Fatal("fresh request must be pending")
	}
}

func TestNetworkIDAbsent(t *testing.T) {
	r := newPaused(&fakeSession{})
	if id, ok := r.NetworkID(); ok || id != "" {
		t.Fatalf("want absent network id, got %q %v", id, ok)
	}
}
