package safe

import (
	"context"
	"io"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
)

// ErrTooLarge is returned by ReadAtMost when the reader has more than max bytes
var ErrTooLarge = goerr.New("content exceeds size limit")

// Close safely closes an io.Closer and logs any errors.
// It handles nil closers gracefully.
func Close(ctx context.Context, closer io.Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.From(ctx).Error("Failed to close", slog.Any("error", err))
	}
}

// ReadAtMost reads r until EOF and fails with ErrTooLarge as soon as more than
// max bytes have been seen. The reader is not drained past max+1 bytes.
func ReadAtMost(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read body")
	}
	if int64(len(data)) > max {
		return nil, goerr.Wrap(ErrTooLarge, "body exceeds limit", goerr.V("max", max))
	}
	return data, nil
}
