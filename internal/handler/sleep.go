package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sleepd/sleepd/internal/history"
	"github.com/sleepd/sleepd/internal/model"
)

// Sleeper suspends the host. *sleep.Engine satisfies it.
type Sleeper interface {
	Sleep(ctx context.Context) model.SleepOutcome
}

// SleepHandler serves the authenticated sleep trigger.
type SleepHandler struct {
	ledger  *history.Ledger
	sleeper Sleeper
	logger  *slog.Logger
	now     func() time.Time
}

// NewSleepHandler creates a new SleepHandler.
func NewSleepHandler(ledger *history.Ledger, sleeper Sleeper, logger *slog.Logger) *SleepHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SleepHandler{
		ledger:  ledger,
		sleeper: sleeper,
		logger:  logger,
		now:     time.Now,
	}
}

// Trigger records the request in the history ledger and invokes the sleep
// engine. The engine runs detached from request cancellation. It must only
// be mounted behind trigger authentication.
// POST /api/sleep
func (h *SleepHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	userAgent := r.Header.Get("User-Agent")
	if userAgent == "" {
		userAgent = "Unknown"
	}
	ev := model.TriggerEvent{
		Timestamp: h.now(),
		Origin:    clientIP(r),
		UserAgent: userAgent,
	}

	h.logger.Info("sleep request accepted", "ip", ev.Origin, "user_agent", ev.UserAgent)
	h.ledger.Record(ev)

	// The chain outlives a client that hangs up mid-grace; each command
	// strategy carries its own timeout.
	outcome := h.sleeper.Sleep(context.WithoutCancel(r.Context()))
	if !outcome.Success {
		h.logger.Error("failed to trigger sleep", "message", outcome.Message)
		writeJSON(w, http.StatusInternalServerError, model.StatusResponse{
			Status:  "error",
			Message: outcome.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, model.StatusResponse{
		Status:  "success",
		Message: outcome.Message,
	})
}
