// Package groutine starts goroutines carrying a pprof name label, so that
// long-lived loops are identifiable in goroutine profiles and debug logs.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name and returns a channel
// closed once fn returns.
//
//	done := groutine.Go(ctx, "notify-dispatcher", func(ctx context.Context) {
//	    // loop until ctx is cancelled
//	})
//	<-done
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	done := make(chan struct{})
	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		defer close(done)
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
	return done
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(goroutineNameKey).(string); ok {
		return v
	}
	return ""
}

// GetGID returns the numeric ID of the calling goroutine, parsed from its
// stack header. Debugging and re-entrancy checks only.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}
