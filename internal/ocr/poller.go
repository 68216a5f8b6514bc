// Package ocr polls attachment processing status until a terminal state or
// the attempt budget runs out. There is no server push; a fixed-interval poll
// is the transport.
package ocr

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinichat/clinichat/internal/backend"
)

// State classifies how a poll run ended.
type State string

const (
	// StateProcessed means every attachment finished OCR.
	StateProcessed State = "processed"
	// StateFailed means an attachment reported an OCR error. Non-fatal for
	// the turn: the send proceeds without extracted text.
	StateFailed State = "failed"
	// StateTimedOut means the attempt budget ran out without a terminal
	// status. Non-fatal, same degradation as StateFailed.
	StateTimedOut State = "timed_out"
)

// Outcome is the terminal result of a poll run.
type Outcome struct {
	State    State
	Text     string
	Error    string
	Attempts int
}

// StatusClient reads a message's attachment processing status.
type StatusClient interface {
	OCRStatus(ctx context.Context, messageID string) (backend.OCRStatus, error)
}

// Poller drives the status loop. Transient status-call failures are logged
// and retried within the budget; only an attachment-level OCR error or a
// completed status is terminal.
type Poller struct {
	client      StatusClient
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewPoller creates a poller with the given pacing. Non-positive values fall
// back to 1 s and 60 attempts.
func NewPoller(log *slog.Logger, client StatusClient, interval time.Duration, maxAttempts int) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	return &Poller{
		client:      client,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      log.With(slog.String("service", "ocr")),
	}
}

// Poll checks the message's attachment status once per interval until a
// terminal condition. Checked in priority order each attempt: any attachment
// error, then all processed, then budget exhaustion. The returned error is
// non-nil only when ctx ends the loop early.
func (p *Poller) Poll(ctx context.Context, messageID string) (Outcome, error) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		status, err := p.client.OCRStatus(ctx, messageID)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Attempts: attempt}, ctx.Err()
			}
			// Transient status-check failure: the loop keeps going. This is
			// distinct from OCR itself failing, which is terminal.
			p.logger.Warn("ocr status check failed",
				slog.String("message_id", messageID),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
		} else {
			if ocrErr := status.FirstError(); ocrErr != "" {
				p.logger.Info("ocr reported an error",
					slog.String("message_id", messageID),
					slog.String("ocr_error", ocrErr),
					slog.Int("attempt", attempt),
				)
				return Outcome{State: StateFailed, Error: ocrErr, Attempts: attempt}, nil
			}
			if status.Completed() {
				return Outcome{State: StateProcessed, Text: status.OCRContent, Attempts: attempt}, nil
			}
		}

		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Outcome{Attempts: attempt}, ctx.Err()
		case <-time.After(p.interval):
		}
	}

	p.logger.Warn("ocr polling budget exhausted",
		slog.String("message_id", messageID),
		slog.Int("attempts", p.maxAttempts),
	)
	return Outcome{State: StateTimedOut, Attempts: p.maxAttempts}, nil
}
