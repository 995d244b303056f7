// Package health runs the periodic chain integrity monitor.
package health

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/openhms/medledger/internal/ledger"
	"go.uber.org/zap"
)

// Config holds monitor configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
}

// Validator walks the chain and reports the first integrity violation.
// *ledger.Chain satisfies this interface.
type Validator interface {
	Validate(ctx context.Context) error
}

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(valid bool)

// Monitor periodically validates the ledger chain. Violations are logged
// and counted, never repaired: a broken chain requires operator action.
type Monitor struct {
	validator Validator
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Monitor.
func New(validator Validator, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 30 * time.Second
	}
	return &Monitor{validator: validator, cfg: cfg, logger: logger}
}

// SetMetricsRecord configures the metrics recording callback.
func (m *Monitor) SetMetricsRecord(fn MetricsRecordFunc) {
	m.onMetrics = fn
}

// Start runs the validation loop until quit is signalled.
func (m *Monitor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckTimeout)
			m.RunOnce(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// RunOnce performs a single validation pass.
func (m *Monitor) RunOnce(ctx context.Context) {
	err := m.validator.Validate(ctx)
	if err == nil {
		if m.onMetrics != nil {
			m.onMetrics(true)
		}
		m.logger.Debug("chain integrity check passed")
		return
	}

	var ie *ledger.IntegrityError
	if errors.As(err, &ie) {
		if m.onMetrics != nil {
			m.onMetrics(false)
		}
		m.logger.Error("chain integrity VIOLATION detected",
			zap.Int("failed_index", ie.Index),
			zap.String("reason", ie.Reason),
		)
		return
	}

	// Store unreachable or timed out; not a verdict on the chain itself.
	m.logger.Warn("chain integrity check errored", zap.Error(err))
}
