package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "igmonitor/pkg/logx"
	"igmonitor/pkg/tgui"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			timeout := d
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs failures at warn; slow successes at info, the rest at debug.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)
			if err != nil {
				logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
				return err
			}
			if d >= 750*time.Millisecond {
				logger.Info("request ok", logx.Duration("dur", d))
			} else {
				logger.Debug("request ok", logx.Duration("dur", d))
			}
			return nil
		}
	}
}

// MWReplyError reports a handler error back to the chat.
func MWReplyError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err != nil {
				cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				_ = req.Reply(cctx, "❌ "+tgui.Esc(err.Error()).String())
			}
			return err
		}
	}
}
