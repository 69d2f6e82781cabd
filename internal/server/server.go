// Package server is the HTTP surface of atendente: the inbound webhook the
// WhatsApp gateway calls, a small admin API for support staff, health and
// Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lojaortopedic/atendente/internal/attendant"
	"github.com/lojaortopedic/atendente/internal/tracking"
)

// Inbox accepts normalized inbound messages without blocking.
type Inbox interface {
	Submit(msg attendant.InboundMessage) error
}

// Resetter starts a fresh conversation for a customer.
type Resetter interface {
	Reset(ctx context.Context, customerID string) (string, error)
}

// Tracker looks up customer-safe tracking status.
type Tracker interface {
	Query(ctx context.Context, code string) (*tracking.Result, error)
}

// Opts holds the collaborators behind the HTTP routes. Only Inbox is
// required; admin routes whose dependency is nil respond 501.
type Opts struct {
	Inbox        Inbox
	Resetter     Resetter
	ChatLog      *attendant.ChatLog
	Tracking     Tracker
	DB           *gorm.DB // finance cases
	AdminToken   string   // admin routes are only mounted when set
	WebhookToken string   // when set, the webhook requires X-Webhook-Token
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Opts
	Port int
	Out  io.Writer
}

// NewHandler builds the gin engine with every route registered.
func NewHandler(opts Opts) (*gin.Engine, error) {
	if opts.Inbox == nil {
		return nil, fmt.Errorf("server: inbox is required")
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	handler, err := NewHandler(opts.Opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "HTTP listening on :%d\n", opts.Port)
		if opts.AdminToken == "" {
			fmt.Fprintf(opts.Out, "server: ADMIN_TOKEN not set; admin routes disabled\n")
		}
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
