// Package api exposes the risk engine over HTTP
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/idrock/riskengine/internal/common/errors"
	"github.com/idrock/riskengine/internal/common/logger"
	"github.com/idrock/riskengine/internal/history"
	"github.com/idrock/riskengine/internal/middleware"
	"github.com/idrock/riskengine/internal/risk"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Assessor scores a single request
type Assessor interface {
	AssessRisk(ctx context.Context, req *risk.AssessmentRequest) (*risk.RiskAssessment, error)
}

// Response is the success envelope of every non-health endpoint
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// Handler provides the HTTP handlers of the risk API
type Handler struct {
	engine Assessor
	store  history.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(engine Assessor, store history.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine: engine,
		store:  store,
		logger: logger.With(zap.String("component", "api")),
		now:    time.Now,
	}
}

// RegisterRoutes registers the risk, session and event routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	assess := r.Group("/assess-risk")
	{
		assess.POST("", h.AssessRisk)
		assess.GET("/history/:sessionId", h.GetHistory)
		assess.GET("/stats", h.GetStatistics)
	}

	r.POST("/session/initialize", h.InitializeSession)
	r.POST("/events/track", h.TrackEvent)
}

func (h *Handler) respond(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// AssessRisk handles POST /api/assess-risk
func (h *Handler) AssessRisk(c *gin.Context) {
	var req risk.AssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("Invalid request body").WithDetails(err.Error()))
		return
	}

	req.IPAddress = ClientIP(c)
	req.UserAgent = userAgent(c)

	log := logger.WithTraceContext(h.logger, c.Request.Context())
	log.Info("Risk assessment request",
		zap.String("event", req.Event),
		zap.String("session_id", req.SessionID),
		zap.String("api_version", GetVersion(c)))

	assessment, err := h.engine.AssessRisk(c.Request.Context(), &req)
	if err != nil {
		var verr *risk.ValidationError
		if errors.As(err, &verr) {
			apperrors.HandleError(c, apperrors.ValidationError(verr.Message).WithDetails(verr.Field))
			return
		}
		log.Error("Risk assessment failed", zap.Error(err))
		apperrors.HandleError(c, apperrors.Internal("Risk assessment failed", err))
		return
	}

	h.recordVisit(c, &req, assessment)

	h.respond(c, assessment)
}

// recordVisit stores the session, device and IP data seen during an
// assessment. Failures are logged; the assessment has already been made.
func (h *Handler) recordVisit(c *gin.Context, req *risk.AssessmentRequest, a *risk.RiskAssessment) {
	ctx := c.Request.Context()
	log := h.logger.With(
		zap.String("session_id", req.SessionID),
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)))

	session := history.Session{
		SessionID: req.SessionID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Metadata:  sessionMetadata(c.Request.Referer(), currentURL(req)),
	}
	if err := h.store.CreateSession(ctx, session); err != nil {
		log.Warn("Failed to store session", zap.Error(err))
	}

	if fp := req.Fingerprint; fp != nil && fp.VisitorID != "" {
		device := risk.DeviceRecord{
			FingerprintID: fp.VisitorID,
			SessionID:     req.SessionID,
			Components:    fp.Components,
			UserAgent:     req.UserAgent,
		}
		if fp.Confidence != nil {
			device.Confidence = *fp.Confidence
		}
		if d := req.DeviceInfo; d != nil {
			device.ScreenResolution = d.ScreenResolution
			device.Timezone = d.Timezone
			device.Language = d.Language
			device.Platform = d.Platform
		}
		if err := h.store.StoreDeviceFingerprint(ctx, device); err != nil {
			log.Warn("Failed to store device fingerprint", zap.Error(err))
		}
	}

	ipScore := a.Factor(risk.FactorIPReputation)
	if ipScore.Degraded || ipScore.Tier == risk.TierLocalhost {
		return
	}
	if err := h.store.StoreIPAddress(ctx, history.IPAddressFromAssessment(req.IPAddress, a)); err != nil {
		log.Warn("Failed to store IP address", zap.Error(err))
	}
	if ipScore.Location.Known() {
		loc := risk.LocationRecord{
			SessionID:  req.SessionID,
			IPAddress:  req.IPAddress,
			Location:   *ipScore.Location,
			RecordedAt: a.Timestamp,
		}
		if err := h.store.RecordLocation(ctx, loc); err != nil {
			log.Warn("Failed to record location", zap.Error(err))
		}
	}
}

// GetHistory handles GET /api/assess-risk/history/:sessionId
func (h *Handler) GetHistory(c *gin.Context) {
	sessionID := c.Param("sessionId")
	limit := parseLimit(c.Query("limit"))

	records, err := h.store.GetAccessHistory(c.Request.Context(), sessionID, limit)
	if err != nil {
		apperrors.HandleError(c, apperrors.DatabaseError("get access history", err))
		return
	}

	h.respond(c, gin.H{
		"sessionId": sessionID,
		"history":   records,
		"count":     len(records),
	})
}

// GetStatistics handles GET /api/assess-risk/stats
func (h *Handler) GetStatistics(c *gin.Context) {
	stats, err := h.store.Statistics(c.Request.Context())
	if err != nil {
		apperrors.HandleError(c, apperrors.DatabaseError("get statistics", err))
		return
	}
	h.respond(c, stats)
}

type initializeSessionRequest struct {
	SessionID string `json:"sessionId"`
	Referrer  string `json:"referrer"`
	URL       string `json:"url"`
}

// InitializeSession handles POST /api/session/initialize
func (h *Handler) InitializeSession(c *gin.Context) {
	var req initializeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("Invalid request body").WithDetails(err.Error()))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		apperrors.HandleError(c, apperrors.ValidationError("Session ID is required").WithDetails("sessionId"))
		return
	}

	referrer := req.Referrer
	if referrer == "" {
		referrer = c.Request.Referer()
	}

	session := history.Session{
		SessionID: req.SessionID,
		IPAddress: ClientIP(c),
		UserAgent: userAgent(c),
		Metadata:  sessionMetadata(referrer, req.URL),
	}
	if err := h.store.CreateSession(c.Request.Context(), session); err != nil {
		apperrors.HandleError(c, apperrors.DatabaseError("create session", err))
		return
	}

	h.logger.Info("Session initialized", zap.String("session_id", req.SessionID))
	h.respond(c, gin.H{
		"sessionId": req.SessionID,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

type trackEventRequest struct {
	SessionID string                 `json:"sessionId"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	URL       string                 `json:"url"`
}

// TrackEvent handles POST /api/events/track
func (h *Handler) TrackEvent(c *gin.Context) {
	var req trackEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("Invalid request body").WithDetails(err.Error()))
		return
	}
	switch {
	case strings.TrimSpace(req.SessionID) == "":
		apperrors.HandleError(c, apperrors.ValidationError("Session ID is required").WithDetails("sessionId"))
		return
	case strings.TrimSpace(req.Type) == "":
		apperrors.HandleError(c, apperrors.ValidationError("Event type is required").WithDetails("type"))
		return
	}

	event := risk.BehaviorEvent{
		SessionID: req.SessionID,
		Type:      req.Type,
		URL:       req.URL,
		Data:      req.Data,
		Timestamp: h.now(),
	}
	if event.URL == "" {
		event.URL = c.Request.Referer()
	}
	if event.Data == nil {
		event.Data = map[string]interface{}{}
	}

	if err := h.store.TrackEvent(c.Request.Context(), event); err != nil {
		apperrors.HandleError(c, apperrors.DatabaseError("track event", err))
		return
	}

	c.JSON(http.StatusOK, Response{
		Success:   true,
		Message:   "Event tracked successfully",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// ClientIP returns the caller's address: the first X-Forwarded-For entry,
// then X-Real-IP, then the connection's remote address, then 127.0.0.1.
// IPv4-mapped IPv6 prefixes are stripped.
func ClientIP(c *gin.Context) string {
	ip := ""
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		ip = strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if ip == "" {
		ip = strings.TrimSpace(c.GetHeader("X-Real-IP"))
	}
	if ip == "" {
		if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
			ip = host
		} else {
			ip = c.Request.RemoteAddr
		}
	}
	if ip == "" {
		ip = "127.0.0.1"
	}
	return strings.TrimPrefix(ip, "::ffff:")
}

func userAgent(c *gin.Context) string {
	if ua := c.Request.UserAgent(); ua != "" {
		return ua
	}
	return "Unknown"
}

func currentURL(req *risk.AssessmentRequest) string {
	if req.BehavioralInfo == nil {
		return ""
	}
	return req.BehavioralInfo.CurrentURL
}

func sessionMetadata(referrer, initialURL string) map[string]interface{} {
	if referrer == "" && initialURL == "" {
		return nil
	}
	md := make(map[string]interface{}, 2)
	if referrer != "" {
		md["referrer"] = referrer
	}
	if initialURL != "" {
		md["initialUrl"] = initialURL
	}
	return md
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	if n > maxHistoryLimit {
		return maxHistoryLimit
	}
	return n
}
