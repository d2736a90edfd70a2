package snap

import (
	"context"
	"time"

	"github.com/eth2030/snapsync/log"
	"github.com/eth2030/snapsync/metrics"
)

// Progress is a point-in-time snapshot of sync progress, rendered by the
// ticker on each tick.
type Progress struct {
	BeaconBlock  uint64
	PivotBlock   uint64
	NAccounts    uint64
	AccountsRate float64
	AccountsFill float64
	NStorageQueue int
	NQueues      int

	StartTime time.Time
}

// Elapsed returns how long sync has been running, or 0 if StartTime was
// never set.
func (p Progress) Elapsed() time.Duration {
	if p.StartTime.IsZero() {
		return 0
	}
	return time.Since(p.StartTime)
}

// ETA estimates the remaining sync time by extrapolating the elapsed time
// over AccountsFill, the fraction of the key space covered so far. Returns
// 0 if progress is insufficient to estimate.
func (p Progress) ETA() time.Duration {
	if p.AccountsFill <= 0 || p.AccountsFill >= 1 {
		return 0
	}
	elapsed := p.Elapsed()
	if elapsed == 0 {
		return 0
	}
	total := time.Duration(float64(elapsed) / p.AccountsFill)
	return total - elapsed
}

// Ticker periodically renders a Progress snapshot through the ambient
// logger, tracking throughput via per-category meters.
type Ticker struct {
	Interval  time.Duration
	StartTime time.Time

	accounts *metrics.Meter
	storage  *metrics.Meter
	heals    *metrics.Meter

	log *log.Logger
}

// NewTicker builds a ticker with its own meters, firing every interval.
func NewTicker(interval time.Duration, logger *log.Logger) *Ticker {
	if logger == nil {
		logger = log.Default()
	}
	return &Ticker{
		Interval:  interval,
		StartTime: time.Now(),
		accounts:  metrics.NewMeter(),
		storage:   metrics.NewMeter(),
		heals:     metrics.NewMeter(),
		log:       logger.Module("snap.ticker"),
	}
}

// Run renders a progress line on every tick until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context, cctx *CoordinatorCtx) error {
	interval := t.Interval
	if interval <= 0 {
		interval = cctx.Cfg.TickerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.tick(cctx)
		}
	}
}

func (t *Ticker) tick(cctx *CoordinatorCtx) {
	top := cctx.Pivots.Top()
	if top == nil {
		t.log.Info("sync: waiting for pivot")
		return
	}

	top.mu.Lock()
	nAccounts := top.NAccounts
	queueDepth := len(top.FetchStorageFull) + len(top.FetchStoragePart)
	top.mu.Unlock()

	cctx.mu.Lock()
	fill := cctx.CoveredAccounts.FullFactor()
	cctx.mu.Unlock()

	p := Progress{
		PivotBlock:    blockNumberOf(top),
		NAccounts:     nAccounts,
		AccountsRate:  t.accounts.Rate1(),
		AccountsFill:  fill,
		NStorageQueue: queueDepth,
		NQueues:       cctx.Pivots.Len(),
		StartTime:     t.StartTime,
	}
	t.log.Info("sync progress",
		"pivot", p.PivotBlock,
		"accounts", p.NAccounts,
		"rate", p.AccountsRate,
		"fill", p.AccountsFill,
		"storageQueue", p.NStorageQueue,
		"pivots", p.NQueues,
		"eta", p.ETA(),
	)
}

// MarkAccounts records n freshly-imported accounts for the throughput meter.
func (t *Ticker) MarkAccounts(n int64) { t.accounts.Mark(n) }

// MarkStorage records n freshly-imported storage slots.
func (t *Ticker) MarkStorage(n int64) { t.storage.Mark(n) }

// MarkHealed records n freshly-healed trie nodes.
func (t *Ticker) MarkHealed(n int64) { t.heals.Mark(n) }

func blockNumberOf(p *Pivot) uint64 {
	if p.StateHeader == nil || p.StateHeader.Number == nil {
		return 0
	}
	return p.StateHeader.Number.Uint64()
}
