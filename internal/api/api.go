// Package api exposes the worker over HTTP and the operator websocket.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/usepotato/potato/internal/middleware"
	"github.com/usepotato/potato/internal/orchestrator"
	"github.com/usepotato/potato/internal/updates"
	"github.com/usepotato/potato/internal/webflow"
)

// Worker is the orchestrator surface served over HTTP.
type Worker interface {
	Connected() bool
	Status() orchestrator.Status
	SessionActive(id string) bool
	InitializeSession(ctx context.Context, sessionID string) (orchestrator.SessionInfo, error)
	EndSessionByID(ctx context.Context, sessionID string) error
	RunWebFlow(ctx context.Context, runID string, flow webflow.Flow) (webflow.Result, error)
	GetStaticResource(ctx context.Context, path, accept string) (orchestrator.Resource, error)

	Subscribe(ctx context.Context, subscriberID string) error
	Unsubscribe(subscriberID string) bool
	ReceiveUpdate(ctx context.Context, u updates.Update) error
}

type StartSessionRequest struct {
	BrowserSessionID string `json:"browserSessionId" binding:"required"`
}

type EndSessionRequest struct {
	BrowserSessionID string `json:"browserSessionId" binding:"required"`
}

type RunWebFlowRequest struct {
	WebFlowRunID string       `json:"webFlowRunId" binding:"required"`
	WebFlow      webflow.Flow `json:"webFlow"`
}

type handlers struct {
	worker Worker
	log    *logrus.Entry
}

// New builds the router. ws may be nil when the websocket is served
// elsewhere.
func New(w Worker, ws http.Handler, apiKey string) *gin.Engine {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	h := &handlers{worker: w, log: logrus.WithField("component", "api")}

	r.GET("/health", h.health)

	authed := r.Group("/", middleware.Auth(apiKey))
	{
		authed.GET("/status", h.status)
		authed.GET("/session/:id/status", h.sessionStatus)
		authed.POST("/start-session", h.startSession)
		authed.POST("/end-session", h.endSession)
		authed.POST("/run-web-flow", h.runWebFlow)
		authed.GET("/metrics", gin.WrapH(promhttp.Handler()))
		if ws != nil {
			authed.GET("/ws", gin.WrapH(ws))
		}
	}

	// The operator's replica page loads its assets from here, so static
	// lookups stay outside the API key check.
	r.NoRoute(h.staticResource)

	return r
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"connected": h.worker.Connected(),
	})
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.Status())
}

func (h *handlers) sessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active": h.worker.SessionActive(c.Param("id"))})
}

func (h *handlers) startSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := h.worker.InitializeSession(c.Request.Context(), req.BrowserSessionID)
	if err != nil {
		h.log.WithError(err).WithField("session_id", req.BrowserSessionID).Error("failed to start session")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handlers) endSession(c *gin.Context) {
	var req EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.worker.EndSessionByID(c.Request.Context(), req.BrowserSessionID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) runWebFlow(c *gin.Context) {
	var req RunWebFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.worker.RunWebFlow(c.Request.Context(), req.WebFlowRunID, req.WebFlow)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "data": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (h *handlers) staticResource(c *gin.Context) {
	if c.Request.Method != http.MethodGet {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	path := c.Request.URL.Path
	if q := c.Request.URL.RawQuery; q != "" {
		path += "?" + q
	}

	res, err := h.worker.GetStaticResource(c.Request.Context(), path, c.GetHeader("Accept"))
	if err != nil {
		if errors.Is(err, orchestrator.ErrResourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.log.WithError(err).WithField("path", path).Error("failed to get static resource")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, res.ContentType, res.Body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidSession), errors.Is(err, webflow.ErrInvalidFlow):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrSessionMismatch):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNotConnected), errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, webflow.ErrNoElements):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
