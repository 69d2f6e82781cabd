package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lojaortopedic/atendente/internal/attendant"
	"github.com/lojaortopedic/atendente/internal/cases"
	"github.com/lojaortopedic/atendente/internal/metrics"
	"github.com/lojaortopedic/atendente/internal/whatsapp"
)

// registerRoutes sets up all routes on the gin router.
func registerRoutes(router *gin.Engine, opts Opts) {
	router.GET("/healthz", handleHealth())
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.POST("/webhook/inbound", requireToken("X-Webhook-Token", opts.WebhookToken, false), handleInbound(opts.Inbox))

	if opts.AdminToken == "" {
		return
	}
	admin := router.Group("/admin", requireToken("Authorization", opts.AdminToken, true))
	admin.POST("/customers/:id/reset", handleReset(opts.Resetter))
	admin.GET("/customers/:id/history", handleHistory(opts.ChatLog))
	admin.GET("/tracking/:code", handleTracking(opts.Tracking))
	admin.GET("/cases", handleCaseList(opts.DB))
	admin.POST("/cases/:id/ack", handleCaseAck(opts.DB))
}

// requireToken rejects requests whose header does not carry token. An
// empty token disables the check.
func requireToken(header, token string, bearer bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(header)
		if bearer {
			got = strings.TrimPrefix(got, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// inboundRequest is the normalized message the gateway bridge posts.
type inboundRequest struct {
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	ImageURL  string    `json:"image_url"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

func handleInbound(inbox Inbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req inboundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		phone := whatsapp.NormalizePhone(req.Phone)
		if phone == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
			return
		}
		if strings.TrimSpace(req.Text) == "" && req.ImageURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text or image_url is required"})
			return
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now()
		}

		err := inbox.Submit(attendant.InboundMessage{
			CustomerID: phone,
			UserName:   req.Name,
			Text:       req.Text,
			ImageURL:   req.ImageURL,
			MessageID:  req.MessageID,
			Timestamp:  req.Timestamp,
		})
		if errors.Is(err, attendant.ErrInboxFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "busy, retry later"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

func notConfigured(c *gin.Context, what string) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": what + " not configured"})
}

func handleReset(r Resetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil {
			notConfigured(c, "reset")
			return
		}
		customerID := whatsapp.NormalizePhone(c.Param("id"))
		threadID, err := r.Reset(c.Request.Context(), customerID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"customer_id": customerID, "thread_id": threadID})
	}
}

func handleHistory(log *attendant.ChatLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if log == nil {
			notConfigured(c, "chat log")
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		customerID := whatsapp.NormalizePhone(c.Param("id"))
		entries, err := log.History(c.Request.Context(), customerID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"customer_id": customerID, "entries": entries})
	}
}

func handleTracking(t Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t == nil {
			notConfigured(c, "tracking")
			return
		}
		res, err := t.Query(c.Request.Context(), c.Param("code"))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleCaseList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			notConfigured(c, "cases")
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		list, err := cases.List(db, cases.ListOpts{
			Status:     c.Query("status"),
			CustomerID: c.Query("customer"),
			Limit:      limit,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cases": list})
	}
}

type ackRequest struct {
	By string `json:"by" binding:"required"`
}

func handleCaseAck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			notConfigured(c, "cases")
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}
		var req ackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "by is required"})
			return
		}
		if err := cases.Acknowledge(db, uint(id), req.By); err != nil {
			status := http.StatusInternalServerError
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
