package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/campusvote/internal/audit"
	"github.com/jmerrifield20/campusvote/internal/identity"
	"go.uber.org/zap"
)

// AuditHandler exposes read-only HTTP endpoints for the audit ledger.
// Mount it behind identity.RequireAdmin.
type AuditHandler struct {
	ledger audit.Ledger
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(ledger audit.Ledger, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{ledger: ledger, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	a := rg.Group("/audit", mw...)
	{
		a.GET("", h.Overview)
		a.GET("/verify", h.Verify)
		a.GET("/entries/:idx", h.GetEntry)
	}
}

// Overview handles GET /audit and returns the chain length and current root hash.
func (h *AuditHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("audit Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit ledger", "code": "INTERNAL"})
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("audit Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit ledger root", "code": "INTERNAL"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /audit/verify. It walks the full chain and reports
// integrity; checked_by carries the id of the admin token that asked.
func (h *AuditHandler) Verify(c *gin.Context) {
	by := adminTokenID(c)
	if err := h.ledger.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("audit ledger integrity check failed", zap.String("admin_jti", by), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid":      false,
			"error":      err.Error(),
			"checked_by": by,
		})
		return
	}
	h.logger.Info("audit ledger verified", zap.String("admin_jti", by))
	c.JSON(http.StatusOK, gin.H{"valid": true, "checked_by": by})
}

// GetEntry handles GET /audit/entries/:idx and returns a single entry.
func (h *AuditHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer", "code": "INVALID_REQUEST"})
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), idx)
	if err != nil {
		if errors.Is(err, audit.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found", "code": "NOT_FOUND"})
			return
		}
		h.logger.Error("audit Get", zap.Int("idx", idx), zap.String("admin_jti", adminTokenID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit entry", "code": "INTERNAL"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

func adminTokenID(c *gin.Context) string {
	if claims := identity.AdminClaimsFromCtx(c); claims != nil {
		return claims.ID
	}
	return ""
}
