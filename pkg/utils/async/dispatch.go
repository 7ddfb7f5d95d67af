package async

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/utils/errutil"
)

// Dispatch runs handler in a new goroutine. The goroutine outlives ctx
// cancellation but keeps its values, such as the logger. Errors and panics
// are reported through errutil under the given name.
func Dispatch(ctx context.Context, name string, handler func(ctx context.Context) error) {
	bgCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errutil.Handle(bgCtx, goerr.New("panic in async handler",
					goerr.V("task", name), goerr.V("panic", r)), "async task panicked")
			}
		}()

		if err := handler(bgCtx); err != nil {
			errutil.Handle(bgCtx, goerr.Wrap(err, "async task failed", goerr.V("task", name)), "async task failed")
		}
	}()
}
