package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// attestKey identifies one attestation tuple. Record IDs are normalised to
// strings so numeric and string representations of the same ID compare
// equal.
type attestKey struct {
	table    string
	recordID string
	dataHash string
}

// Chain owns the in-memory representation of the ledger and is the only
// component permitted to grow it. The backing Store remains the source of
// truth on reload.
//
// The chain is lazily initialised on first use: the transition from
// uninitialised to ready replays all persisted blocks in index order and is
// idempotent. All methods are safe for concurrent use; readers never
// observe a partially appended block.
type Chain struct {
	mu       sync.RWMutex
	store    Store
	logger   *zap.Logger
	blocks   []Block
	attested map[attestKey]int // tuple -> index of the attesting block
	ready    bool

	// onAppend, when set, is invoked after each successful append. Used to
	// hook metrics without importing the metrics package here.
	onAppend func(*Block)
}

// NewChain creates a Chain over the given store. No store access happens
// until the first operation.
func NewChain(store Store, logger *zap.Logger) *Chain {
	return &Chain{
		store:    store,
		logger:   logger,
		attested: make(map[attestKey]int),
	}
}

// SetAppendHook configures a callback invoked after every successful append.
func (c *Chain) SetAppendHook(fn func(*Block)) {
	c.mu.Lock()
	c.onAppend = fn
	c.mu.Unlock()
}

// Init loads the chain from the store if it has not been loaded yet.
// Calling it after the chain is ready is a no-op.
func (c *Chain) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initLocked(ctx)
}

func (c *Chain) initLocked(ctx context.Context) error {
	if c.ready {
		return nil
	}
	if err := c.reloadLocked(ctx); err != nil {
		return err
	}
	c.ready = true
	c.logger.Info("ledger chain loaded", zap.Int("blocks", len(c.blocks)))
	return nil
}

// reloadLocked replaces the in-memory chain with the store's view.
// Callers must hold the write lock.
func (c *Chain) reloadLocked(ctx context.Context) error {
	blocks, err := c.store.Load(ctx, 0)
	if err != nil {
		return fmt.Errorf("load chain: %w", err)
	}
	c.blocks = blocks
	c.attested = make(map[attestKey]int, len(blocks))
	for _, b := range blocks {
		c.attested[attestKey{b.TableName, b.RecordID, b.DataHash}] = b.Index
	}
	return nil
}

// AddBlock appends a new block attesting (table, recordID, dataHash) to the
// chain tail. The block is persisted before the in-memory chain advances;
// on any persistence failure the in-memory state is left untouched and the
// caller decides whether to retry, surface the error, or proceed without
// attestation.
//
// A concurrent append by another process surfaces as ErrConcurrentAppend
// from the store; the chain reloads from the store and retries once with
// the fresh tail before giving up.
func (c *Chain) AddBlock(ctx context.Context, table, recordID, dataHash string) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.initLocked(ctx); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		block, err := c.appendLocked(ctx, table, recordID, dataHash)
		if err == nil {
			return block, nil
		}
		if !errors.Is(err, ErrConcurrentAppend) || attempt > 0 {
			return nil, err
		}
		c.logger.Warn("ledger append lost a race, reloading tail",
			zap.String("table", table),
			zap.String("record_id", recordID),
		)
		if err := c.reloadLocked(ctx); err != nil {
			return nil, err
		}
	}
}

func (c *Chain) appendLocked(ctx context.Context, table, recordID, dataHash string) (*Block, error) {
	prevHash := GenesisPrevHash
	if n := len(c.blocks); n > 0 {
		prevHash = c.blocks[n-1].BlockHash
	}

	block := Block{
		Index:     len(c.blocks) + 1,
		TableName: table,
		RecordID:  recordID,
		DataHash:  dataHash,
		PrevHash:  prevHash,
		CreatedAt: time.Now().UTC(),
	}
	block.BlockHash = ComputeBlockHash(block.Index, block.PrevHash, block.DataHash)

	if err := c.store.Append(ctx, &block); err != nil {
		if errors.Is(err, ErrConcurrentAppend) {
			return nil, err
		}
		return nil, fmt.Errorf("persist block %d: %w", block.Index, err)
	}

	c.blocks = append(c.blocks, block)
	c.attested[attestKey{table, recordID, dataHash}] = block.Index
	if c.onAppend != nil {
		c.onAppend(&block)
	}
	return &block, nil
}

// VerifyRecord reports whether some block in the chain attests exactly
// (table, recordID, dataHash). The lookup is O(1) against an index
// maintained on append; the index maps every tuple ever attested, not just
// the most recent hash per record.
func (c *Chain) VerifyRecord(ctx context.Context, table, recordID, dataHash string) (bool, error) {
	if err := c.ensureReady(ctx); err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.attested[attestKey{table, recordID, dataHash}]
	return ok, nil
}

// Validate recomputes every block's hash and linkage. It returns nil for a
// valid chain, or an *IntegrityError naming the first failing index.
// Validation is read-only and may run concurrently with VerifyRecord.
func (c *Chain) Validate(ctx context.Context) error {
	if err := c.ensureReady(ctx); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	prevHash := GenesisPrevHash
	for i, b := range c.blocks {
		if b.Index != i+1 {
			return &IntegrityError{Index: b.Index, Reason: fmt.Sprintf("expected index %d", i+1)}
		}
		if b.PrevHash != prevHash {
			return &IntegrityError{Index: b.Index, Reason: "previous hash does not match prior block"}
		}
		if want := ComputeBlockHash(b.Index, b.PrevHash, b.DataHash); b.BlockHash != want {
			return &IntegrityError{Index: b.Index, Reason: "stored block hash does not match recomputation"}
		}
		prevHash = b.BlockHash
	}
	return nil
}

// Len returns the number of blocks in the chain.
func (c *Chain) Len(ctx context.Context) (int, error) {
	if err := c.ensureReady(ctx); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks), nil
}

// Tip returns the hash of the most recent block, or GenesisPrevHash for an
// empty chain.
func (c *Chain) Tip(ctx context.Context) (string, error) {
	if err := c.ensureReady(ctx); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.blocks) == 0 {
		return GenesisPrevHash, nil
	}
	return c.blocks[len(c.blocks)-1].BlockHash, nil
}

// Get returns the block at the given 1-based index.
func (c *Chain) Get(ctx context.Context, index int) (*Block, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 1 || index > len(c.blocks) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	b := c.blocks[index-1]
	return &b, nil
}

// Recent returns the most recent n blocks in ascending index order.
func (c *Chain) Recent(ctx context.Context, n int) ([]Block, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || n > len(c.blocks) {
		n = len(c.blocks)
	}
	out := make([]Block, n)
	copy(out, c.blocks[len(c.blocks)-n:])
	return out, nil
}

// ensureReady performs lazy initialisation without holding the write lock
// longer than necessary.
func (c *Chain) ensureReady(ctx context.Context) error {
	c.mu.RLock()
	ready := c.ready
	c.mu.RUnlock()
	if ready {
		return nil
	}
	return c.Init(ctx)
}
