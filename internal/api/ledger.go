// Package api exposes the integrity ledger and the tracked record tables
// over HTTP. All endpoints are JSON; the ledger surface is read-mostly,
// with sync as the only chain-growing operation reachable here (row
// mutations attest through the records handler).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openhms/medledger/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes the chain state, validation, and reconciliation.
type LedgerHandler struct {
	chain  *ledger.Chain
	syncer *ledger.Syncer
	tables []string
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler. tables is the tracked set used
// when a sync request names no tables of its own.
func NewLedgerHandler(chain *ledger.Chain, syncer *ledger.Syncer, tables []string, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{chain: chain, syncer: syncer, tables: tables, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/validate", h.Validate)
		l.GET("/blocks", h.ListBlocks)
		l.GET("/blocks/:idx", h.GetBlock)
		l.POST("/verify", h.VerifyRecord)
		l.POST("/sync", h.Sync)
	}
}

// Overview handles GET /ledger — chain length and current tip hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.chain.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	tip, err := h.chain.Tip(ctx)
	if err != nil {
		h.logger.Error("ledger Tip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger tip"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"blocks": count,
		"tip":    tip,
	})
}

// Validate handles GET /ledger/validate — recomputes every block hash and
// linkage. Integrity violations are reported with a 200; validation ran
// fine, the chain did not pass it.
func (h *LedgerHandler) Validate(c *gin.Context) {
	err := h.chain.Validate(c.Request.Context())
	if err == nil {
		RecordIntegrityCheck(true)
		c.JSON(http.StatusOK, gin.H{"valid": true})
		return
	}

	var ie *ledger.IntegrityError
	if errors.As(err, &ie) {
		RecordIntegrityCheck(false)
		h.logger.Warn("chain integrity check failed",
			zap.Int("failed_index", ie.Index),
			zap.String("reason", ie.Reason),
		)
		c.JSON(http.StatusOK, gin.H{
			"valid":        false,
			"failed_index": ie.Index,
			"error":        ie.Reason,
		})
		return
	}

	h.logger.Error("chain validation", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate chain"})
}

// ListBlocks handles GET /ledger/blocks?limit=n — most recent n blocks in
// ascending index order.
func (h *LedgerHandler) ListBlocks(c *gin.Context) {
	limit := 10
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	blocks, err := h.chain.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("ledger Recent", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query blocks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks})
}

// GetBlock handles GET /ledger/blocks/:idx.
func (h *LedgerHandler) GetBlock(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a positive integer"})
		return
	}

	block, err := h.chain.Get(c.Request.Context(), idx)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
			return
		}
		h.logger.Error("ledger Get", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query block"})
		return
	}
	c.JSON(http.StatusOK, block)
}

// verifyRequest is the POST /ledger/verify body. RecordID accepts both
// string and numeric JSON values since callers supply whatever their
// primary key type is.
type verifyRequest struct {
	TableName string `json:"table_name" binding:"required"`
	RecordID  any    `json:"record_id" binding:"required"`
	DataHash  string `json:"data_hash" binding:"required"`
}

// normalizeID renders a JSON record id the way the chain stores it: numeric
// and string forms of the same key compare equal.
func normalizeID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprintf("%v", id)
	}
}

// VerifyRecord handles POST /ledger/verify — reports whether the exact
// (table, record id, hash) tuple is attested in the chain.
func (h *LedgerHandler) VerifyRecord(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attested, err := h.chain.VerifyRecord(
		c.Request.Context(), req.TableName, normalizeID(req.RecordID), req.DataHash,
	)
	if err != nil {
		h.logger.Error("ledger VerifyRecord", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify record"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attested": attested})
}

// syncRequest is the POST /ledger/sync body. An empty table list means
// "all tracked tables".
type syncRequest struct {
	Tables []string `json:"tables"`
}

// Sync handles POST /ledger/sync — runs one reconciliation pass.
func (h *LedgerHandler) Sync(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	tables := req.Tables
	if len(tables) == 0 {
		tables = h.tables
	}

	summary, err := h.syncer.Sync(c.Request.Context(), tables)
	if err != nil {
		h.logger.Error("sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		return
	}

	RecordSyncRun(len(summary.Errors) == 0)
	c.JSON(http.StatusOK, summary)
}
