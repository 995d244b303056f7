package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls across processes. The value is arbitrary but must
// be consistent for every writer of the same ledger.
const advisoryLockKey = int64(7_420_315_998)

// pgUndefinedTable is SQLSTATE 42P01, raised when the backing table has not
// been created yet (migrations not applied). Load treats it as an empty
// chain.
const pgUndefinedTable = "42P01"

// PostgresStore persists the block chain to a PostgreSQL ledger_blocks
// table. It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, limit int) ([]Block, error) {
	query := `SELECT block_index, table_name, record_id, data_hash, block_hash, previous_hash, created_at
		 FROM ledger_blocks ORDER BY block_index ASC`
	args := []any{}
	if limit > 0 {
		query = `SELECT block_index, table_name, record_id, data_hash, block_hash, previous_hash, created_at
			 FROM ledger_blocks ORDER BY block_index DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query ledger blocks: %w", err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(
			&b.Index, &b.TableName, &b.RecordID,
			&b.DataHash, &b.BlockHash, &b.PrevHash, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger blocks: %w", err)
	}

	if limit > 0 {
		// Rows came back newest-first; restore ascending order.
		for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
			blocks[i], blocks[j] = blocks[j], blocks[i]
		}
	}
	return blocks, nil
}

// Append implements Store.
// It acquires a PostgreSQL advisory lock, re-reads the chain tail, and
// inserts the block — all within a single transaction. If the tail no
// longer matches the block's linkage, the append fails with
// ErrConcurrentAppend and nothing is persisted.
func (s *PostgresStore) Append(ctx context.Context, b *Block) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends with a transaction-scoped advisory lock.
	// The lock is released automatically on commit or rollback.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	tailIdx := 0
	tailHash := GenesisPrevHash
	err = tx.QueryRow(ctx,
		"SELECT block_index, block_hash FROM ledger_blocks ORDER BY block_index DESC LIMIT 1",
	).Scan(&tailIdx, &tailHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read ledger tail: %w", err)
	}

	if b.Index != tailIdx+1 || b.PrevHash != tailHash {
		return ErrConcurrentAppend
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_blocks (block_index, table_name, record_id, data_hash, block_hash, previous_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.Index, b.TableName, b.RecordID, b.DataHash, b.BlockHash, b.PrevHash, b.CreatedAt,
	); err != nil {
		// block_index carries a UNIQUE constraint; a duplicate insert means
		// another writer claimed this index.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConcurrentAppend
		}
		return fmt.Errorf("insert ledger block: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger block appended",
		zap.Int("index", b.Index),
		zap.String("table", b.TableName),
		zap.String("record_id", b.RecordID),
	)
	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}
