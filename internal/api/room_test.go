package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coderoom-io/coderoom/internal/models"
	"github.com/coderoom-io/coderoom/internal/repository/memory"
)

func newTestRouter(t *testing.T) (*gin.Engine, *memory.RoomStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewRoomStore()
	router := gin.New()
	router.GET("/api/health", Health("memory"))
	router.GET("/api/rooms/:id", NewRoomHandler(store, zap.NewNop()).GetByID)
	router.POST("/api/execute", NewExecuteHandler(nil, zap.NewNop()).Execute)
	return router, store
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "OK" {
		t.Errorf("Expected status OK, got %q", body["status"])
	}
	if body["timestamp"] == "" {
		t.Error("Expected a timestamp")
	}
}

func TestGetRoomByID(t *testing.T) {
	router, store := newTestRouter(t)
	store.FindOrCreate(context.Background(), "room-42")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/room-42", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var room models.Room
	if err := json.Unmarshal(w.Body.Bytes(), &room); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	if room.RoomID != "room-42" {
		t.Errorf("Expected room-42, got %s", room.RoomID)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/missing", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestExecuteUnconfigured(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/execute", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when execution is not configured, got %d", w.Code)
	}
}
