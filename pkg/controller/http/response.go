package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/usecase"
	"github.com/secmon-lab/switchboard/pkg/utils/errutil"
)

// errBadRequest marks errors caused by malformed input
var errBadRequest = goerr.New("bad request")

const maxBodyBytes = 1 << 20

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data) //nolint:errcheck // header already committed
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return goerr.Wrap(errBadRequest, "failed to read request body", goerr.V("error", err.Error()))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return goerr.Wrap(errBadRequest, "invalid JSON body", goerr.V("error", err.Error()))
	}
	return nil
}

// statusOf maps use case errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, usecase.ErrInvalidSyncType),
		errors.Is(err, usecase.ErrInvalidEntityType),
		errors.Is(err, usecase.ErrInvalidTemplate),
		errors.Is(err, usecase.ErrNoTargets),
		errors.Is(err, usecase.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrJobNotFound),
		errors.Is(err, usecase.ErrNoteNotFound),
		errors.Is(err, usecase.ErrEntityNotFound),
		errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrJobRunning),
		errors.Is(err, usecase.ErrJobNotRunning),
		errors.Is(err, model.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, usecase.ErrProviderNotConfigured),
		errors.Is(err, usecase.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func handleError(r *http.Request, w http.ResponseWriter, err error) {
	errutil.HandleHTTP(r.Context(), w, err, statusOf(err))
}

// queryInt reads a non-negative integer parameter, clamped to max when max > 0
func queryInt(r *http.Request, key string, max int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, goerr.Wrap(errBadRequest, "invalid integer parameter", goerr.V("key", key), goerr.V("value", raw))
	}
	if max > 0 && v > max {
		v = max
	}
	return v, nil
}

// queryBool reads an optional boolean parameter; nil means unset
func queryBool(r *http.Request, key string) (*bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, goerr.Wrap(errBadRequest, "invalid boolean parameter", goerr.V("key", key), goerr.V("value", raw))
	}
	return &v, nil
}
