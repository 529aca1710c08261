package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/campusvote/internal/election/model"
	"go.uber.org/zap"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(k model.Kind) int {
	switch k {
	case model.KindValidation, model.KindEligibility, model.KindConflict:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindRateLimit:
		return http.StatusTooManyRequests
	case model.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Errors that are not a
// *model.Error are reported as INTERNAL and never leak their text.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var me *model.Error
	if !errors.As(err, &me) {
		me = model.Internal(err)
	}

	status := statusFor(me.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", me.Code),
			zap.Error(me),
		)
	}

	body := gin.H{
		"error": me.Message,
		"code":  me.Code,
	}
	if len(me.Details) > 0 {
		body["details"] = me.Details
	}
	if me.RetryAfter > 0 {
		secs := int(me.RetryAfter.Seconds())
		c.Header("Retry-After", strconv.Itoa(secs))
		body["retryAfter"] = secs
	}
	c.JSON(status, body)
}
