package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openhms/medledger/internal/ledger"
	"github.com/openhms/medledger/internal/records"
	"go.uber.org/zap"
)

// RecordsHandler exposes the tracked hospital tables. Every mutation that
// goes through here is attested into the ledger by the records service.
type RecordsHandler struct {
	svc    *records.Service
	logger *zap.Logger
}

// NewRecordsHandler creates a RecordsHandler.
func NewRecordsHandler(svc *records.Service, logger *zap.Logger) *RecordsHandler {
	return &RecordsHandler{svc: svc, logger: logger}
}

// Register mounts the record routes on the given router group.
func (h *RecordsHandler) Register(rg *gin.RouterGroup) {
	r := rg.Group("/records")
	{
		r.GET("/tables", h.Tables)
		r.GET("/:table", h.List)
		r.GET("/:table/:id", h.Get)
		r.GET("/:table/:id/integrity", h.Integrity)
		r.POST("/:table", h.Create)
		r.PUT("/:table/:id", h.Update)
	}
}

// Tables handles GET /records/tables — the tracked table names.
func (h *RecordsHandler) Tables(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tables": h.svc.Tables()})
}

// List handles GET /records/:table?limit=n.
func (h *RecordsHandler) List(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	rows, err := h.svc.List(c.Request.Context(), c.Param("table"), limit)
	if err != nil {
		h.fail(c, err, "list records")
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowJSON(row))
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

// Get handles GET /records/:table/:id.
func (h *RecordsHandler) Get(c *gin.Context) {
	row, err := h.svc.Get(c.Request.Context(), c.Param("table"), c.Param("id"))
	if err != nil {
		h.fail(c, err, "get record")
		return
	}
	c.JSON(http.StatusOK, rowJSON(row))
}

// Integrity handles GET /records/:table/:id/integrity — re-hashes the
// current row content and checks it against the chain.
func (h *RecordsHandler) Integrity(c *gin.Context) {
	report, err := h.svc.VerifyRecord(c.Request.Context(), c.Param("table"), c.Param("id"))
	if err != nil {
		h.fail(c, err, "verify record")
		return
	}
	c.JSON(http.StatusOK, report)
}

// Create handles POST /records/:table. The response includes the appended
// block when attestation succeeded; a null block means the row was written
// but the ledger could not be reached.
func (h *RecordsHandler) Create(c *gin.Context) {
	values, ok := bindValues(c)
	if !ok {
		return
	}

	res, err := h.svc.Create(c.Request.Context(), c.Param("table"), values)
	if err != nil {
		h.fail(c, err, "create record")
		return
	}
	c.JSON(http.StatusCreated, mutationJSON(res))
}

// Update handles PUT /records/:table/:id.
func (h *RecordsHandler) Update(c *gin.Context) {
	values, ok := bindValues(c)
	if !ok {
		return
	}

	res, err := h.svc.Update(c.Request.Context(), c.Param("table"), c.Param("id"), values)
	if err != nil {
		h.fail(c, err, "update record")
		return
	}
	c.JSON(http.StatusOK, mutationJSON(res))
}

func bindValues(c *gin.Context) (map[string]any, bool) {
	var values map[string]any
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if len(values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must set at least one column"})
		return nil, false
	}
	return values, true
}

// fail maps service errors to HTTP statuses.
func (h *RecordsHandler) fail(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, records.ErrUnknownTable), errors.Is(err, records.ErrUnknownColumn):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, records.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func rowJSON(row ledger.Row) gin.H {
	values := make(gin.H, len(row.Columns))
	for i, col := range row.Columns {
		values[col] = row.Values[i]
	}
	return gin.H{"id": row.ID, "values": values}
}

func mutationJSON(res *records.MutationResult) gin.H {
	out := rowJSON(res.Row)
	out["data_hash"] = res.DataHash
	if res.Block != nil {
		out["block"] = res.Block
	} else {
		out["block"] = nil
	}
	return out
}
