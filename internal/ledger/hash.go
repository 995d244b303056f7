package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ErrColumnMismatch is returned when the column and value slices passed to
// RowHash have different lengths. This is a caller error.
var ErrColumnMismatch = errors.New("column and value counts differ")

// ErrUnsupportedValue is returned when a row value has no canonical string
// form. Callers should degrade to FallbackRowHash rather than abort the
// underlying row mutation.
var ErrUnsupportedValue = errors.New("value cannot be canonically serialized")

// RowHash computes the canonical content hash of a table row. Column/value
// pairs are sorted by column name before hashing, so two structurally
// identical rows hash identically regardless of column order. The table
// name deliberately does not participate in the digest: the row hash is a
// pure function of row content, and cross-table discrimination happens at
// verification time, which keys on the full (table, record id, hash) tuple.
func RowHash(columns []string, values []any) (string, error) {
	if len(columns) != len(values) {
		return "", fmt.Errorf("%w: %d columns, %d values", ErrColumnMismatch, len(columns), len(values))
	}

	type pair struct {
		col string
		val string
	}
	pairs := make([]pair, len(columns))
	for i, col := range columns {
		canon, err := canonicalValue(values[i])
		if err != nil {
			return "", fmt.Errorf("column %q: %w", col, err)
		}
		pairs[i] = pair{col: col, val: canon}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].col < pairs[j].col })

	h := sha256.New()
	for _, p := range pairs {
		fmt.Fprintf(h, "%s=%s\n", p.col, p.val)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FallbackRowHash hashes the raw value tuple without canonicalisation.
// It is the degraded path taken when RowHash fails with ErrUnsupportedValue:
// a loose attestation is preferred over no attestation, since the row write
// to the primary table has already succeeded.
func FallbackRowHash(values []any) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%v", values)))
	return hex.EncodeToString(h[:])
}

// canonicalValue maps a scalar row value to its canonical string form.
func canonicalValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return val, nil
	case []byte:
		return hex.EncodeToString(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	default:
		return "", fmt.Errorf("%w: type %T", ErrUnsupportedValue, v)
	}
}
