package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/campusvote/internal/election/model"
	"go.uber.org/zap"
)

// challengeSvc is the interface expected by VerifyHandler, satisfied by
// *service.ChallengeService.
type challengeSvc interface {
	RequestChallenge(ctx context.Context, regNo string) (*model.ChallengeReceipt, error)
	ConfirmChallenge(ctx context.Context, regNo, code string) (*model.Confirmation, error)
}

// VerifyHandler handles voter verification: OTP request and confirmation.
type VerifyHandler struct {
	svc    challengeSvc
	logger *zap.Logger
}

// NewVerifyHandler creates a VerifyHandler.
func NewVerifyHandler(svc challengeSvc, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{svc: svc, logger: logger}
}

// Register mounts the verification routes on the given router group.
func (h *VerifyHandler) Register(rg *gin.RouterGroup) {
	v := rg.Group("/verify")
	{
		v.POST("/request-otp", h.RequestOTP)
		v.POST("/confirm-otp", h.ConfirmOTP)
	}
}

type requestOTPRequest struct {
	RegNo string `json:"reg_no"`
}

type confirmOTPRequest struct {
	RegNo string `json:"reg_no"`
	OTP   string `json:"otp"`
}

// RequestOTP handles POST /verify/request-otp.
func (h *VerifyHandler) RequestOTP(c *gin.Context) {
	var req requestOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, model.ErrInvalidRequest)
		return
	}

	receipt, err := h.svc.RequestChallenge(c.Request.Context(), req.RegNo)
	RecordOTPRequest(outcomeCode(err))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// ConfirmOTP handles POST /verify/confirm-otp. The ballot token in the
// response is shown once and cannot be retrieved again.
func (h *VerifyHandler) ConfirmOTP(c *gin.Context) {
	var req confirmOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, model.ErrInvalidRequest)
		return
	}

	conf, err := h.svc.ConfirmChallenge(c.Request.Context(), req.RegNo, req.OTP)
	RecordOTPConfirm(outcomeCode(err))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordBallotIssued()
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, conf)
}
