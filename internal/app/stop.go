package app

import (
	"context"
	"fmt"
	"time"

	logx "igmonitor/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

// stepper returns a helper that runs one shutdown step bounded by max and by
// the caller's deadline. A step that overruns is logged and left behind.
func stepper(ctx context.Context, log logx.Logger) func(name string, max time.Duration, fn func(context.Context) error) {
	return func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}
}
