package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/campusvote/internal/identity"
	"go.uber.org/zap"
)

// AdminHandler exchanges the static admin secret for a short-lived admin token.
type AdminHandler struct {
	tokens *identity.AdminTokenIssuer
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(tokens *identity.AdminTokenIssuer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{tokens: tokens, logger: logger}
}

// Register mounts the admin routes on the given router group.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/admin/token", h.IssueToken)
}

type adminTokenRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// IssueToken handles POST /admin/token.
func (h *AdminHandler) IssueToken(c *gin.Context) {
	if !h.tokens.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "admin access is not configured", "code": "NOT_FOUND"})
		return
	}

	var req adminTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret is required", "code": "INVALID_REQUEST"})
		return
	}

	tok, exp, err := h.tokens.Exchange(req.Secret)
	if err != nil {
		if errors.Is(err, identity.ErrBadSecret) {
			h.logger.Warn("admin token exchange rejected", zap.String("client_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret", "code": "UNAUTHORIZED"})
			return
		}
		h.logger.Error("issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token", "code": "INTERNAL"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"token":     tok,
		"expiresAt": exp.Format(time.RFC3339),
	})
}
