package errutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
)

// Handle logs the error with goerr values and stacks and reports it to Sentry
// when a Sentry client is initialized.
func Handle(ctx context.Context, err error, msg string) {
	if err == nil {
		return
	}

	logger := logging.From(ctx)

	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.Error(msg,
			"error", err.Error(),
			"values", ge.Values(),
			"stack", ge.Stacks(),
		)
	} else {
		logger.Error(msg, "error", err.Error())
	}

	report(err, ge)
}

func report(err error, ge *goerr.Error) {
	if sentry.CurrentHub().Client() == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		if ge != nil {
			scope.SetContext("values", sentry.Context(ge.Values()))
		}
	})
	hub.CaptureException(err)
}

// HandleHTTP logs the error and writes a JSON error response.
// 5xx errors are reported to Sentry; client errors are only logged.
func HandleHTTP(ctx context.Context, w http.ResponseWriter, err error, statusCode int) {
	if err == nil {
		return
	}

	if statusCode >= http.StatusInternalServerError {
		Handle(ctx, err, "HTTP error")
	} else {
		logging.From(ctx).Warn("HTTP client error",
			"status", statusCode,
			"error", err.Error(),
		)
	}

	WriteJSON(ctx, w, statusCode, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// WriteJSON writes v as a JSON response body with the given status
func WriteJSON(ctx context.Context, w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.From(ctx).Error("failed to marshal response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(data) //nolint:errcheck // header already committed
}
