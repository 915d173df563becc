// Package worker runs the gateway's background loops.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wallet-gateway/internal/logging"
	"github.com/wallet-gateway/internal/retry"
	"github.com/wallet-gateway/internal/service"
	"github.com/wallet-gateway/internal/types"
)

// BalanceNotifier receives balance changes detected by the watcher.
type BalanceNotifier interface {
	NotifyBalance(ctx context.Context, identity types.Identity, balance types.Amount)
}

// BalanceWatcher periodically polls the wallet balance of every registered
// user and pushes a presence update when a balance changed since the last
// observation.
type BalanceWatcher struct {
	accounts     *service.AccountService
	notifier     BalanceNotifier
	pollInterval time.Duration
	retryConfig  *retry.Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastPollTime time.Time
}

// NewBalanceWatcher creates a new balance watcher
func NewBalanceWatcher(accounts *service.AccountService, notifier BalanceNotifier, pollInterval time.Duration) *BalanceWatcher {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &BalanceWatcher{
		accounts:     accounts,
		notifier:     notifier,
		pollInterval: pollInterval,
		retryConfig:  retry.DefaultConfig(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start begins the polling loop in a goroutine.
func (w *BalanceWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("balance watcher is already running")
	}
	w.running = true
	w.mu.Unlock()

	logging.FromContext(ctx).WithField("pollInterval", w.pollInterval.String()).Info("starting balance watcher")
	go w.pollLoop(ctx)
	return nil
}

// Stop signals the loop to finish and waits for it.
func (w *BalanceWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("balance watcher is not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastPollTime reports when the last poll cycle started, for the ops API.
func (w *BalanceWatcher) LastPollTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPollTime
}

func (w *BalanceWatcher) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			w.lastPollTime = time.Now()
			w.mu.Unlock()

			if err := w.pollOnce(ctx); err != nil {
				logging.FromContext(ctx).WithError(err).Warn("balance poll cycle failed")
			}
		}
	}
}

// pollOnce checks every registered identity once. Wallet hiccups on a single
// identity are retried with backoff and never abort the rest of the cycle.
func (w *BalanceWatcher) pollOnce(ctx context.Context) error {
	identities, err := w.accounts.ListRegistered(ctx)
	if err != nil {
		return fmt.Errorf("failed to list registered identities: %w", err)
	}

	for _, identity := range identities {
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		u := w.accounts.LookupOrCreate(identity)

		var (
			balance types.Amount
			changed bool
		)
		err := retry.Do(ctx, w.retryConfig, func(ctx context.Context, _ int) error {
			var err error
			balance, changed, err = w.accounts.CheckBalance(ctx, u)
			return err
		})
		if err != nil {
			logging.FromContext(ctx).WithError(err).WithField("identity", string(identity)).
				Warn("balance check failed, skipping identity this cycle")
			continue
		}

		if changed {
			w.notifier.NotifyBalance(ctx, identity, balance)
		}
	}

	return nil
}
