package custody

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/config"
	"github.com/covault/covault/pkg/errors"
)

// Workers runs the custody background loops: the expiry sweeper that marks
// overdue proposals for reporting accuracy, and the confirmation poller that
// promotes pending deposits once the chain reaches the required depth.
// Correctness never depends on either loop; expiry is also enforced lazily
// at operation time.
type Workers struct {
	service *Service
	cfg     config.CustodyConfig
	logger  *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorkers creates the background workers for a service.
func NewWorkers(service *Service, cfg config.CustodyConfig, logger *zap.Logger) *Workers {
	return &Workers{
		service: service,
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the loops. Intervals set to zero disable the matching loop.
func (w *Workers) Start(ctx context.Context) {
	if w.cfg.SweepInterval > 0 {
		w.wg.Add(1)
		go w.runExpirySweeper(ctx)
	}
	if w.cfg.ConfirmationPollInterval > 0 {
		w.wg.Add(1)
		go w.runConfirmationPoller(ctx)
	}
}

// Stop signals the loops and waits for them to drain.
func (w *Workers) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Workers) runExpirySweeper(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			expired, err := w.service.Transactions.ExpireStale(ctx)
			if err != nil {
				w.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				w.logger.Info("expired stale proposals", zap.Int("count", expired))
			}
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Workers) runConfirmationPoller(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.ConfirmationPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.pollPendingDeposits(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Workers) pollPendingDeposits(ctx context.Context) {
	pending, err := w.service.Deposits.ListPendingDeposits(ctx)
	if err != nil {
		w.logger.Error("list pending deposits failed", zap.Error(err))
		return
	}
	for _, d := range pending {
		if d.ChainTxHash == "" {
			continue
		}
		confirmations, err := w.service.gateway.GetConfirmations(ctx, d.ChainTxHash)
		if err != nil {
			w.logger.Warn("confirmation lookup failed",
				zap.String("deposit_id", d.ID.String()),
				zap.String("chain_tx_hash", d.ChainTxHash),
				zap.Error(err))
			continue
		}
		if confirmations < w.cfg.MinConfirmations {
			w.logger.Debug("deposit below confirmation threshold",
				zap.String("deposit_id", d.ID.String()),
				zap.Int("confirmations", confirmations),
				zap.Int("required", w.cfg.MinConfirmations))
			continue
		}
		if _, err := w.service.Deposits.ConfirmDeposit(ctx, d.ID, d.BlockNumber, confirmations, d.Fee); err != nil {
			// A concurrent confirm or cancel already settled the deposit.
			if errors.IsKind(err, errors.KindConflict) || errors.IsKind(err, errors.KindState) {
				continue
			}
			w.logger.Error("deposit confirmation failed",
				zap.String("deposit_id", d.ID.String()),
				zap.Error(err))
		}
	}
}
