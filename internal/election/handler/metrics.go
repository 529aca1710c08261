package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/campusvote/internal/election/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cvRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusvote_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	cvRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campusvote_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	cvOTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusvote_otp_requests_total",
		Help: "Total OTP requests by result code.",
	}, []string{"code"})

	cvOTPConfirmsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusvote_otp_confirmations_total",
		Help: "Total OTP confirmations by result code.",
	}, []string{"code"})

	cvNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusvote_notifications_total",
		Help: "Total OTP notifications by channel and outcome.",
	}, []string{"channel", "outcome"})

	cvBallotsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campusvote_ballots_issued_total",
		Help: "Total ballot tokens issued.",
	})

	cvCastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusvote_casts_total",
		Help: "Total cast submissions by result code.",
	}, []string{"code"})

	cvVotesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campusvote_votes_total",
		Help: "Total vote rows committed.",
	})

	cvAuditDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusvote_audit_dropped_total",
		Help: "Total audit events dropped before reaching a sink, by action.",
	}, []string{"action"})

	cvDependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "campusvote_dependency_up",
		Help: "1 if the last probe of a backing dependency succeeded, else 0.",
	}, []string{"dependency"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		cvRequestsTotal.WithLabelValues(method, path, status).Inc()
		cvRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// outcomeCode labels a service result: "OK" or the error code.
func outcomeCode(err error) string {
	if err == nil {
		return "OK"
	}
	var me *model.Error
	if errors.As(err, &me) {
		return me.Code
	}
	return model.CodeInternal
}

// RecordOTPRequest records the result of an OTP request.
func RecordOTPRequest(code string) {
	cvOTPRequestsTotal.WithLabelValues(code).Inc()
}

// RecordOTPConfirm records the result of an OTP confirmation.
func RecordOTPConfirm(code string) {
	cvOTPConfirmsTotal.WithLabelValues(code).Inc()
}

// RecordNotification records one channel's delivery outcome.
func RecordNotification(channel, outcome string) {
	cvNotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordBallotIssued records a ballot token being issued.
func RecordBallotIssued() {
	cvBallotsIssuedTotal.Inc()
}

// RecordVoteCast records a cast submission and, on success, its vote rows.
func RecordVoteCast(code string, votes int) {
	cvCastsTotal.WithLabelValues(code).Inc()
	if votes > 0 {
		cvVotesTotal.Add(float64(votes))
	}
}

// RecordAuditDrop records an audit event the recorder could not deliver.
func RecordAuditDrop(action string) {
	cvAuditDroppedTotal.WithLabelValues(action).Inc()
}

// RecordDependencyProbe records the outcome of a dependency health probe.
func RecordDependencyProbe(dependency string, success bool) {
	v := 0.0
	if success {
		v = 1
	}
	cvDependencyUp.WithLabelValues(dependency).Set(v)
}
