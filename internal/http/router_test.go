package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ticketform/backend/internal/ai"
	"github.com/ticketform/backend/internal/config"
	"github.com/ticketform/backend/internal/db"
	"github.com/ticketform/backend/internal/http/middleware"
	"github.com/ticketform/backend/internal/service"
)

func TestRouterMountsRootAndAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, err := db.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "router.db"), db.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	intake := &service.IntakeService{Store: store, AI: ai.MockClarifier{}, Gate: service.NewGate(300), Logger: zerolog.Nop()}
	r := Router(config.Config{CORSAllowed: "*", RequestTimeout: 5 * time.Second}, store, intake, zerolog.Nop())

	for _, path := range []string{"/health", "/api/health", "/healthz", "/tickets", "/api/tickets"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, w.Code)
		}
		if w.Header().Get(middleware.RequestIDHeader) == "" {
			t.Fatalf("GET %s: missing request id header", path)
		}
	}
}
