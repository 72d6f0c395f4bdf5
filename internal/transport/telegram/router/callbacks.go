package router

import (
	"context"
	"strings"
	"time"

	kit "igmonitor/internal/transport"
	logx "igmonitor/pkg/logx"
	"igmonitor/pkg/tgui"
)

// CallbackFunc handles a button press; payload is the part after "scope:action:".
type CallbackFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute binds callback data "scope:action[:payload]" to a handler.
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackFunc
}

func callbackKey(scope, action string) string {
	return strings.TrimSpace(scope) + ":" + strings.TrimSpace(action)
}

// SetCallbacks replaces the button routes.
func (r *Router) SetCallbacks(routes ...CallbackRoute) {
	m := make(map[string]CallbackRoute, len(routes))
	for _, rt := range routes {
		if rt.Handle == nil || rt.Scope == "" || rt.Action == "" {
			continue
		}
		m[callbackKey(rt.Scope, rt.Action)] = rt
	}
	r.mu.Lock()
	r.callbacks = m
	r.mu.Unlock()
}

func (r *Router) callbackRoute(scope, action string) (CallbackRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.callbacks[callbackKey(scope, action)]
	return rt, ok
}

func (r *Router) answer(ctx context.Context, id, text string) {
	if r.editor == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.editor.AnswerCallback(cctx, id, text); err != nil {
		r.log.Debug("answer callback failed", logx.Err(err))
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	parts := strings.SplitN(cb.Data, ":", 3)
	if len(parts) < 2 {
		r.answer(ctx, cb.ID, "")
		return
	}
	rt, ok := r.callbackRoute(parts[0], parts[1])
	if !ok {
		r.answer(ctx, cb.ID, "this button is no longer active")
		return
	}
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	var (
		client string
		owners []int64
	)
	if r.resolver != nil {
		client, owners, _ = r.resolver.Resolve(cb.ChatID)
	}
	if !r.allowed(rt.Access, cb.FromID, owners) {
		r.answer(ctx, cb.ID, "forbidden")
		return
	}

	rid := newReqID()
	name := callbackKey(rt.Scope, rt.Action)
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:   cb.FromID,
		Client:   client,
		Command:  name,
		Callback: cb,
		Payload:  payload,
		ReqID:    rid,
		Sender:   r.sender,
		Editor:   r.editor,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("callback", name),
		),
	}
	final := Chain(func(ctx context.Context, req *Request) error {
		return rt.Handle(ctx, req, req.Payload)
	},
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(rt.Timeout),
	)
	job := func() {
		text := ""
		if err := final(ctx, req); err != nil {
			text = tgui.TruncRunes("⚠️ "+err.Error(), 190)
		}
		r.answer(ctx, cb.ID, text)
	}
	if !r.tryEnqueue(job) {
		r.answer(ctx, cb.ID, "busy, try again")
	}
}
