package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/campusvote/internal/election/model"
	"go.uber.org/zap"
)

// ballotTokenHeader carries the ballot token on GET requests that prefer not
// to expose it in the query string.
const ballotTokenHeader = "x-ballot-token"

// voteSvc is the interface expected by VoteHandler, satisfied by *service.VoteService.
type voteSvc interface {
	Ballot(ctx context.Context, token string) (*model.BallotView, error)
	Cast(ctx context.Context, token string, selections []model.Selection) (*model.CastResult, error)
}

// VoteHandler serves the ballot page and accepts cast votes.
type VoteHandler struct {
	svc    voteSvc
	logger *zap.Logger
}

// NewVoteHandler creates a VoteHandler.
func NewVoteHandler(svc voteSvc, logger *zap.Logger) *VoteHandler {
	return &VoteHandler{svc: svc, logger: logger}
}

// Register mounts the voting routes on the given router group.
func (h *VoteHandler) Register(rg *gin.RouterGroup) {
	v := rg.Group("/vote")
	{
		v.GET("/ballot", h.GetBallot)
		v.POST("/cast", h.Cast)
	}
}

type castRequest struct {
	Token string            `json:"token"`
	Votes []model.Selection `json:"votes"`
}

// GetBallot handles GET /vote/ballot. The token is read from the "token"
// query parameter or the x-ballot-token header.
func (h *VoteHandler) GetBallot(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.GetHeader(ballotTokenHeader))
	}

	view, err := h.svc.Ballot(c.Request.Context(), token)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, view)
}

// Cast handles POST /vote/cast.
func (h *VoteHandler) Cast(c *gin.Context) {
	var req castRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, model.ErrMalformedSubmission.Wrap(err))
		return
	}

	res, err := h.svc.Cast(c.Request.Context(), req.Token, req.Votes)
	RecordVoteCast(outcomeCode(err), voteCount(res))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func voteCount(res *model.CastResult) int {
	if res == nil {
		return 0
	}
	return res.Votes
}
