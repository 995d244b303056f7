package ledger_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/openhms/medledger/internal/ledger"
	"go.uber.org/zap"
)

var ctx = context.Background()

func newChain(t *testing.T) (*ledger.Chain, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	return ledger.NewChain(store, zap.NewNop()), store
}

func TestAddBlock_firstBlockLinksToSentinel(t *testing.T) {
	c, _ := newChain(t)

	b, err := c.AddBlock(ctx, "PATIENTS", "1", strings.Repeat("aa", 32))
	if err != nil {
		t.Fatal(err)
	}
	if b.Index != 1 {
		t.Errorf("first block index: got %d, want 1", b.Index)
	}
	if b.PrevHash != ledger.GenesisPrevHash {
		t.Errorf("first block prev hash: got %q, want %q", b.PrevHash, ledger.GenesisPrevHash)
	}

	// block_hash = SHA256("1" + "0" + data_hash)
	want := sha256.Sum256([]byte("1" + "0" + strings.Repeat("aa", 32)))
	if b.BlockHash != hex.EncodeToString(want[:]) {
		t.Errorf("block hash: got %q, want %q", b.BlockHash, hex.EncodeToString(want[:]))
	}
}

func TestAddBlock_chainsCorrectly(t *testing.T) {
	c, _ := newChain(t)

	b1, err := c.AddBlock(ctx, "PATIENTS", "1", strings.Repeat("aa", 32))
	if err != nil {
		t.Fatal(err)
	}
	b2, err := c.AddBlock(ctx, "PATIENTS", "2", strings.Repeat("bb", 32))
	if err != nil {
		t.Fatal(err)
	}

	if b2.Index != 2 {
		t.Errorf("second block index: got %d, want 2", b2.Index)
	}
	if b2.PrevHash != b1.BlockHash {
		t.Errorf("chain broken: b2.PrevHash=%q, want b1.BlockHash=%q", b2.PrevHash, b1.BlockHash)
	}

	n, err := c.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("chain length: got %d, want 2", n)
	}
}

func TestVerifyRecord(t *testing.T) {
	c, _ := newChain(t)
	aa := strings.Repeat("aa", 32)

	if _, err := c.AddBlock(ctx, "PATIENTS", "1", aa); err != nil {
		t.Fatal(err)
	}

	ok, err := c.VerifyRecord(ctx, "PATIENTS", "1", aa)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("attested tuple not found")
	}

	ok, _ = c.VerifyRecord(ctx, "PATIENTS", "1", strings.Repeat("cc", 32))
	if ok {
		t.Error("never-attested hash reported as attested")
	}
	ok, _ = c.VerifyRecord(ctx, "DOCTORS", "1", aa)
	if ok {
		t.Error("same hash under a different table reported as attested")
	}
}

func TestVerifyRecord_olderHashesStayAttested(t *testing.T) {
	c, _ := newChain(t)
	v1 := strings.Repeat("aa", 32)
	v2 := strings.Repeat("bb", 32)

	// Same record attested twice (an update). Both versions were attested
	// at some point and both must verify.
	c.AddBlock(ctx, "PATIENTS", "7", v1)
	c.AddBlock(ctx, "PATIENTS", "7", v2)

	for _, h := range []string{v1, v2} {
		ok, err := c.VerifyRecord(ctx, "PATIENTS", "7", h)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("hash %s.. no longer verifies after a later attestation", h[:4])
		}
	}
}

func TestValidate_validChain(t *testing.T) {
	c, _ := newChain(t)
	for _, h := range []string{"aa", "bb", "cc", "dd"} {
		if _, err := c.AddBlock(ctx, "PATIENTS", h, strings.Repeat(h, 32)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Validate(ctx); err != nil {
		t.Errorf("Validate failed on a pure append-only chain: %v", err)
	}
}

func TestValidate_emptyChain(t *testing.T) {
	c, _ := newChain(t)
	if err := c.Validate(ctx); err != nil {
		t.Errorf("Validate on empty chain: %v", err)
	}
}

func TestValidate_detectsTampering(t *testing.T) {
	store := ledger.NewMemoryStore()
	c := ledger.NewChain(store, zap.NewNop())
	c.AddBlock(ctx, "PATIENTS", "1", strings.Repeat("aa", 32))
	c.AddBlock(ctx, "PATIENTS", "2", strings.Repeat("bb", 32))
	c.AddBlock(ctx, "PATIENTS", "3", strings.Repeat("cc", 32))

	// Rewrite block 2's data hash behind the chain's back, then reload a
	// fresh chain from the mutated store.
	blocks, _ := store.Load(ctx, 0)
	tampered := ledger.NewMemoryStore()
	for i, b := range blocks {
		if b.Index == 2 {
			b.DataHash = strings.Repeat("ee", 32)
		}
		b.PrevHash = tailHash(blocks, i)
		tampered.Append(ctx, &b)
	}

	fresh := ledger.NewChain(tampered, zap.NewNop())
	err := fresh.Validate(ctx)
	if err == nil {
		t.Fatal("tampered chain passed validation")
	}
	var ie *ledger.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *IntegrityError, got %T", err)
	}
	if ie.Index != 2 {
		t.Errorf("first failing index: got %d, want 2", ie.Index)
	}
}

// tailHash returns the stored hash of the block before position i, so the
// tampered store still accepts the append sequence.
func tailHash(blocks []ledger.Block, i int) string {
	if i == 0 {
		return ledger.GenesisPrevHash
	}
	return blocks[i-1].BlockHash
}

func TestAddBlock_storeFailureLeavesChainUntouched(t *testing.T) {
	store := &failingStore{}
	c := ledger.NewChain(store, zap.NewNop())

	if _, err := c.AddBlock(ctx, "PATIENTS", "1", strings.Repeat("aa", 32)); err == nil {
		t.Fatal("expected append failure")
	}

	n, err := c.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("chain advanced despite persistence failure: length %d", n)
	}
	ok, _ := c.VerifyRecord(ctx, "PATIENTS", "1", strings.Repeat("aa", 32))
	if ok {
		t.Error("failed append is visible to VerifyRecord")
	}
}

func TestAddBlock_retriesAfterConcurrentAppend(t *testing.T) {
	store := ledger.NewMemoryStore()
	c := ledger.NewChain(store, zap.NewNop())
	if err := c.Init(ctx); err != nil {
		t.Fatal(err)
	}

	// Another writer extends the store after this chain loaded its tail.
	other := ledger.NewChain(store, zap.NewNop())
	if _, err := other.AddBlock(ctx, "DOCTORS", "9", strings.Repeat("dd", 32)); err != nil {
		t.Fatal(err)
	}

	// The stale chain's first attempt gets ErrConcurrentAppend from the
	// store; it must reload and succeed on the retry.
	b, err := c.AddBlock(ctx, "PATIENTS", "1", strings.Repeat("aa", 32))
	if err != nil {
		t.Fatalf("append after losing the race: %v", err)
	}
	if b.Index != 2 {
		t.Errorf("retried block index: got %d, want 2", b.Index)
	}

	blocks, _ := store.Load(ctx, 0)
	if blocks[1].PrevHash != blocks[0].BlockHash {
		t.Error("retried block is not linked to the winner's block")
	}
}

func TestChain_lazyInitIdempotent(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed := ledger.NewChain(store, zap.NewNop())
	seed.AddBlock(ctx, "PATIENTS", "1", strings.Repeat("aa", 32))

	c := ledger.NewChain(store, zap.NewNop())
	for i := 0; i < 3; i++ {
		if err := c.Init(ctx); err != nil {
			t.Fatalf("Init call %d: %v", i+1, err)
		}
	}
	n, _ := c.Len(ctx)
	if n != 1 {
		t.Errorf("reloaded chain length: got %d, want 1", n)
	}
}

func TestRecent_ascendingOrder(t *testing.T) {
	c, _ := newChain(t)
	for _, h := range []string{"aa", "bb", "cc", "dd", "ee"} {
		c.AddBlock(ctx, "PATIENTS", h, strings.Repeat(h, 32))
	}

	recent, err := c.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d blocks, want 3", len(recent))
	}
	if recent[0].Index != 3 || recent[2].Index != 5 {
		t.Errorf("recent blocks out of order: indices %d..%d", recent[0].Index, recent[2].Index)
	}
}

func TestGet_outOfRange(t *testing.T) {
	c, _ := newChain(t)
	c.AddBlock(ctx, "PATIENTS", "1", strings.Repeat("aa", 32))

	if _, err := c.Get(ctx, 1); err != nil {
		t.Errorf("Get(1): %v", err)
	}
	if _, err := c.Get(ctx, 0); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Get(0): expected ErrNotFound, got %v", err)
	}
	if _, err := c.Get(ctx, 2); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Get(2): expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_loadLimit(t *testing.T) {
	store := ledger.NewMemoryStore()
	c := ledger.NewChain(store, zap.NewNop())
	for _, h := range []string{"aa", "bb", "cc"} {
		c.AddBlock(ctx, "PATIENTS", h, strings.Repeat(h, 32))
	}

	blocks, err := store.Load(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Index != 2 || blocks[1].Index != 3 {
		t.Errorf("limited load not ascending from the tail: %d, %d", blocks[0].Index, blocks[1].Index)
	}
}

// failingStore simulates connectivity loss during persistence.
type failingStore struct{}

func (f *failingStore) Load(context.Context, int) ([]ledger.Block, error) { return nil, nil }

func (f *failingStore) Append(context.Context, *ledger.Block) error {
	return errors.New("connection reset by peer")
}
