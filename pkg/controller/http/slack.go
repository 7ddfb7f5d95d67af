package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/usecase"
	"github.com/secmon-lab/switchboard/pkg/utils/async"
	"github.com/secmon-lab/switchboard/pkg/utils/errutil"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
	"github.com/slack-go/slack/slackevents"
)

// maxSignatureAge bounds the replay window of signed requests
const maxSignatureAge = 5 * time.Minute

// verifySlackSignature checks the v0 HMAC-SHA256 signature of a request body
func verifySlackSignature(signingSecret, timestamp, signature string, body []byte, now time.Time) error {
	if timestamp == "" {
		return goerr.New("missing timestamp")
	}

	if signature == "" {
		return goerr.New("missing signature")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return goerr.Wrap(err, "invalid timestamp")
	}
	if age := now.Sub(time.Unix(ts, 0)); age > maxSignatureAge || age < -maxSignatureAge {
		return goerr.New("timestamp out of range", goerr.V("timestamp", timestamp), goerr.V("now", now.Unix()))
	}

	baseString := fmt.Sprintf("v0:%s:%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(signingSecret))
	if _, err := mac.Write([]byte(baseString)); err != nil {
		return goerr.Wrap(err, "failed to compute HMAC")
	}
	expectedSignature := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expectedSignature), []byte(signature)) {
		return goerr.New("signature mismatch")
	}

	return nil
}

// SlackSignatureMiddleware creates a middleware that verifies Slack request signatures
func SlackSignatureMiddleware(signingSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to read request body"), http.StatusBadRequest)
				return
			}
			defer func() {
				if err := r.Body.Close(); err != nil {
					logger := logging.From(ctx)
					logger.Error("failed to close request body", "error", err)
				}
			}()

			timestamp := r.Header.Get("X-Slack-Request-Timestamp")
			signature := r.Header.Get("X-Slack-Signature")

			if err := verifySlackSignature(signingSecret, timestamp, signature, body, time.Now()); err != nil {
				errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "slack signature verification failed"), http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewBuffer(body))
			next.ServeHTTP(w, r)
		})
	}
}

// SlackWebhookHandler receives Events API callbacks and turns directory
// changes into sync triggers
type SlackWebhookHandler struct {
	eventUC *usecase.ChatEventUseCase
}

func NewSlackWebhookHandler(eventUC *usecase.ChatEventUseCase) *SlackWebhookHandler {
	return &SlackWebhookHandler{
		eventUC: eventUC,
	}
}

// ServeHTTP handles Slack webhook requests
func (h *SlackWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Body was already verified by the middleware
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to read request body"), http.StatusBadRequest)
		return
	}

	eventsAPIEvent, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to parse slack event"), http.StatusBadRequest)
		return
	}

	switch eventsAPIEvent.Type {
	case slackevents.URLVerification:
		var r *slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &r); err != nil {
			errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to unmarshal challenge"), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(r.Challenge)); err != nil {
			logging.From(ctx).Error("failed to write challenge response", "error", err)
		}

	case slackevents.CallbackEvent:
		// Slack expects an answer within 3 seconds
		w.WriteHeader(http.StatusOK)

		async.Dispatch(ctx, "slack-event", func(ctx context.Context) error {
			if _, err := h.eventUC.HandleEvent(ctx, &eventsAPIEvent); err != nil {
				return goerr.Wrap(err, "failed to handle slack event",
					goerr.V("team_id", eventsAPIEvent.TeamID))
			}
			return nil
		})

	default:
		logging.From(ctx).Warn("unknown slack event type", "type", eventsAPIEvent.Type)
		w.WriteHeader(http.StatusOK)
	}
}
