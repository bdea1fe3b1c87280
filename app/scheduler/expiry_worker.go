package scheduler

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/McFlipperson/Island-Properties-APP-sub000/repository"
)

// ExpiryWorker sweeps verification sessions and extracted codes past their
// deadlines. Read paths already filter on the deadlines, so this exists to
// keep stored state honest, not to enforce TTLs.
type ExpiryWorker struct {
	sessionRepo repository.VerificationSessionRepository
	codeRepo    repository.ExtractedCodeRepository
	interval    time.Duration
	logger      *log.Logger
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(
	sessionRepo repository.VerificationSessionRepository,
	codeRepo repository.ExtractedCodeRepository,
	interval time.Duration,
	logger *log.Logger,
) *ExpiryWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = log.New(os.Stdout, "expiry ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
	}

	return &ExpiryWorker{
		sessionRepo: sessionRepo,
		codeRepo:    codeRepo,
		interval:    interval,
		logger:      logger,
	}
}

// Start launches the expiry loop and returns a stop function
func (w *ExpiryWorker) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (w *ExpiryWorker) runOnce(ctx context.Context) {
	sessions, err := w.sessionRepo.ExpireStaleSessions(ctx)
	if err != nil {
		w.logger.Printf("expiry: session sweep failed: %v", err)
	}

	codes, err := w.codeRepo.ExpireStaleCodes(ctx)
	if err != nil {
		w.logger.Printf("expiry: code sweep failed: %v", err)
	}

	if sessions > 0 || codes > 0 {
		w.logger.Printf("expiry: expired %d sessions, %d codes", sessions, codes)
	}
}
