package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// GenesisPrevHash is the sentinel previous-hash value of the first block.
// The chain has no genesis block; an empty chain simply links its first
// appended block to this constant.
const GenesisPrevHash = "0"

// Block is one attested entry in the ledger. A block is immutable once it
// has been committed to the store.
type Block struct {
	Index     int       `json:"index"`
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	DataHash  string    `json:"data_hash"`
	PrevHash  string    `json:"previous_hash"`
	BlockHash string    `json:"block_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// ComputeBlockHash is the chain linkage primitive: the SHA-256 of the
// block's 1-based index, its predecessor's hash, and the attested row hash,
// concatenated without separators. CreatedAt is informational and does not
// participate in the digest.
func ComputeBlockHash(index int, prevHash, dataHash string) string {
	h := sha256.Sum256([]byte(strconv.Itoa(index) + prevHash + dataHash))
	return hex.EncodeToString(h[:])
}

// IntegrityError reports the first block at which chain validation failed.
// It is reported, never auto-repaired; repair requires operator action.
type IntegrityError struct {
	Index  int
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("chain integrity violation at block %d: %s", e.Index, e.Reason)
}
