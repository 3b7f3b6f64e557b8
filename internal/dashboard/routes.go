package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/persona"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	api := router.Group("/api")

	api.GET("/sessions", handleSessionList(opts.Manager))
	api.GET("/sessions/:id", handleSessionStatus(opts.Manager))
	api.GET("/sessions/:id/transcript", handleTranscript(opts.Manager))
	api.POST("/sessions/:id/messages", handleSendMessage(opts.Manager))
	api.POST("/sessions/:id/stop", handleStop(opts.Manager))
	api.PUT("/sessions/:id/autorun", handleAutoRun(opts.Manager))
	api.PUT("/sessions/:id/persona", handleSelectPersona(opts.Manager))
	api.GET("/sessions/:id/events", handleSSE(opts))

	api.GET("/personas", handlePersonaList(opts.Personas))
	api.GET("/models", handleModels(opts))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

type autoRunRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type personaRequest struct {
	ID string `json:"id" binding:"required"`
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, automation.ErrUnknownRunner), errors.Is(err, persona.ErrUnknownPersona):
		status = http.StatusNotFound
	case errors.Is(err, automation.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, automation.ErrNotRunning):
		status = http.StatusGone
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func handleSessionList(m *automation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": m.List()})
	}
}

func handleSessionStatus(m *automation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := m.Get(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, r.Status())
	}
}

func handleTranscript(m *automation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := m.Get(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		hidden, _ := strconv.ParseBool(c.DefaultQuery("hidden", "false"))
		c.JSON(http.StatusOK, gin.H{"messages": r.Transcript(hidden)})
	}
}

func handleSendMessage(m *automation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req messageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "text is empty"})
			return
		}
		r, err := m.Get(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if err := r.SendUserMessage(c.Request.Context(), req.Text); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, r.Status())
	}
}

func handleStop(m *automation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := m.Get(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if err := r.Stop(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, r.Status())
	}
}

func handleAutoRun(m *automation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req autoRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		r, err := m.Get(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if err := r.SetAutoRun(c.Request.Context(), *req.Enabled); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, r.Status())
	}
}

func handleSelectPersona(m *automation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req personaRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		r, err := m.Get(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if err := r.SelectPersona(c.Request.Context(), req.ID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, r.Status())
	}
}

func handlePersonaList(catalog persona.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := catalog.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"personas": list})
	}
}

func handleModels(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Gateway == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "no model gateway configured"})
			return
		}
		models, err := opts.Gateway.ListModels(c.Request.Context(), opts.Params)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"provider": opts.Params.Provider, "models": models})
	}
}
