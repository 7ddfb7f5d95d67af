package safe

import (
	"context"
	"io"
	"log/slog"

	"github.com/secmon-lab/switchboard/pkg/utils/logging"
)

// maxDrain bounds how much of an unread body is discarded before closing
const maxDrain = 64 << 10

// Close closes an io.Closer and logs any error. nil closers are ignored.
func Close(ctx context.Context, closer io.Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.From(ctx).Error("Failed to close", slog.Any("error", err))
	}
}

// DrainClose discards what is left of an HTTP response body and closes it,
// so the underlying connection can be reused
func DrainClose(ctx context.Context, body io.ReadCloser) {
	if body == nil {
		return
	}
	if _, err := io.CopyN(io.Discard, body, maxDrain); err != nil && err != io.EOF {
		logging.From(ctx).Debug("Failed to drain body", slog.Any("error", err))
	}
	Close(ctx, body)
}

// Write writes data to an io.Writer and logs any error. nil writers are
// ignored.
func Write(ctx context.Context, w io.Writer, data []byte) {
	if w == nil {
		return
	}
	if _, err := w.Write(data); err != nil {
		logging.From(ctx).Error("Failed to write", slog.Any("error", err))
	}
}
