// Package ledger implements a hash-chained integrity ledger over hospital
// record tables.
//
// Every attested row mutation becomes a Block whose BlockHash covers its
// index, the previous block's hash, and the row's content hash. The first
// block links to the sentinel GenesisPrevHash ("0"), so any insertion,
// deletion, or rewrite of a persisted block is detectable via Validate.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
//
// The Chain type is the only component permitted to grow the ledger; the
// Syncer backfills blocks for rows that predate ledger adoption.
package ledger
