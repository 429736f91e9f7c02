package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/axel-blaze-11/pheonix/internal/router"
)

// SwitchRouter is the part of the router the Switch endpoints drive.
type SwitchRouter interface {
	HandleReqValAdd(ctx context.Context, raw []byte) router.Outcome
	HandleReqPay(ctx context.Context, raw []byte) router.Outcome
	HandleRespPay(ctx context.Context, raw []byte) router.Outcome
}

// Server is the Switch HTTP server
type Server struct {
	switchRouter SwitchRouter
	engine       *gin.Engine
}

// NewServer creates the Switch server
func NewServer(r SwitchRouter) *Server {
	s := &Server{
		switchRouter: r,
		engine:       NewEngine(),
	}

	api := s.engine.Group("/api")
	{
		api.POST("/reqvaladd", s.handleReqValAdd)
		api.POST("/reqpay", s.handleReqPay)
		api.POST("/resppay", s.handleRespPay)
	}

	return s
}

// Handler exposes the server for http.Server and httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve runs h on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: shutdown of %s: %v", addr, err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
