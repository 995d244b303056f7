package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/openhms/medledger/internal/ledger"
	"go.uber.org/zap"
)

// attestor is the slice of the chain the service needs. *ledger.Chain
// satisfies this interface.
type attestor interface {
	AddBlock(ctx context.Context, table, recordID, dataHash string) (*ledger.Block, error)
	VerifyRecord(ctx context.Context, table, recordID, dataHash string) (bool, error)
}

// rowStore is the persistence interface for the records service.
// *Repository satisfies this interface.
type rowStore interface {
	Registry() *Registry
	Get(ctx context.Context, table, id string) (ledger.Row, error)
	FetchRows(ctx context.Context, table string, limit int) ([]ledger.Row, error)
	Insert(ctx context.Context, table string, values map[string]any) (ledger.Row, error)
	Update(ctx context.Context, table, id string, values map[string]any) (ledger.Row, error)
}

// MutationResult is returned by Create and Update. Block is nil when the
// row was written but attestation failed; the mutation itself stands.
type MutationResult struct {
	Row      ledger.Row
	DataHash string
	Block    *ledger.Block
}

// IntegrityReport is the outcome of checking one row against the chain.
type IntegrityReport struct {
	TableName string `json:"table_name"`
	RecordID  string `json:"record_id"`
	DataHash  string `json:"data_hash"`
	Attested  bool   `json:"attested"`
}

// Service performs row mutations on tracked tables and attests each one
// into the ledger. Attestation is deliberately non-fatal: the business
// mutation has already committed when the chain is appended, so a ledger
// failure is logged and reported, never used to roll the row back.
type Service struct {
	store  rowStore
	chain  attestor
	logger *zap.Logger
}

// NewService creates a records Service.
func NewService(store rowStore, chain attestor, logger *zap.Logger) *Service {
	return &Service{store: store, chain: chain, logger: logger}
}

// Tables returns the tracked table names.
func (s *Service) Tables() []string {
	return s.store.Registry().Names()
}

// List returns up to limit rows of a tracked table.
func (s *Service) List(ctx context.Context, table string, limit int) ([]ledger.Row, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.FetchRows(ctx, table, limit)
}

// Get returns one row by primary key.
func (s *Service) Get(ctx context.Context, table, id string) (ledger.Row, error) {
	return s.store.Get(ctx, table, id)
}

// Create inserts a row and attests it.
func (s *Service) Create(ctx context.Context, table string, values map[string]any) (*MutationResult, error) {
	row, err := s.store.Insert(ctx, table, values)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return s.attest(ctx, table, row), nil
}

// Update modifies a row and attests its new content.
func (s *Service) Update(ctx context.Context, table, id string, values map[string]any) (*MutationResult, error) {
	row, err := s.store.Update(ctx, table, id, values)
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", table, id, err)
	}
	return s.attest(ctx, table, row), nil
}

// VerifyRecord re-reads a row, recomputes its content hash, and reports
// whether that exact content is attested in the chain.
func (s *Service) VerifyRecord(ctx context.Context, table, id string) (*IntegrityReport, error) {
	row, err := s.store.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	canonicalTable, err := s.store.Registry().Lookup(table)
	if err != nil {
		return nil, err
	}

	hash := s.rowHash(canonicalTable.Name, row)
	attested, err := s.chain.VerifyRecord(ctx, canonicalTable.Name, row.ID, hash)
	if err != nil {
		return nil, fmt.Errorf("verify %s %s: %w", canonicalTable.Name, id, err)
	}
	return &IntegrityReport{
		TableName: canonicalTable.Name,
		RecordID:  row.ID,
		DataHash:  hash,
		Attested:  attested,
	}, nil
}

// attest appends a block for the persisted row in a non-fatal manner.
func (s *Service) attest(ctx context.Context, table string, row ledger.Row) *MutationResult {
	canonicalTable, err := s.store.Registry().Lookup(table)
	if err != nil {
		// Lookup already succeeded during the mutation; keep the raw name.
		canonicalTable = Table{Name: table}
	}

	hash := s.rowHash(canonicalTable.Name, row)
	result := &MutationResult{Row: row, DataHash: hash}

	block, err := s.chain.AddBlock(ctx, canonicalTable.Name, row.ID, hash)
	if err != nil {
		s.logger.Warn("ledger attestation failed (non-fatal)",
			zap.String("table", canonicalTable.Name),
			zap.String("record_id", row.ID),
			zap.Error(err),
		)
		return result
	}
	result.Block = block
	return result
}

// rowHash computes the canonical row hash, degrading to the fallback digest
// when a value resists canonical serialization.
func (s *Service) rowHash(table string, row ledger.Row) string {
	hash, err := ledger.RowHash(row.Columns, row.Values)
	if err == nil {
		return hash
	}
	if errors.Is(err, ledger.ErrUnsupportedValue) {
		s.logger.Warn("degraded to fallback row hash",
			zap.String("table", table),
			zap.String("record_id", row.ID),
			zap.Error(err),
		)
		return ledger.FallbackRowHash(row.Values)
	}
	// Column mismatch means the registry and the row disagree; hash the raw
	// tuple so the mutation is still attested, and make noise about it.
	s.logger.Error("row hash failed, attesting raw tuple",
		zap.String("table", table),
		zap.String("record_id", row.ID),
		zap.Error(err),
	)
	return ledger.FallbackRowHash(row.Values)
}
