// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
)

// Go launches fn on a new goroutine with panic recovery. A panicking
// background worker must never take the whole call process down; the panic is
// reported on stderr with a stack trace and swallowed.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "recovered panic in background worker: %v\n%s\n", r, debug.Stack())
			}
		}()
		if ctx != nil && ctx.Err() != nil {
			return
		}
		fn()
	}()
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
