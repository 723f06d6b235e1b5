package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-offers-backend/internal/auth"
	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/http/middleware"
	"github.com/tbourn/go-offers-backend/internal/repo"
	"github.com/tbourn/go-offers-backend/internal/services"
)

// ---------- test plumbing ----------

var handlerSecret = []byte("handlers-test-secret")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type env struct {
	db       *gorm.DB
	offers   *services.OfferService
	messages *services.MessageService
	router   *gin.Engine

	owner    *domain.User
	provider *domain.User
	other    *domain.User
	service  *domain.RequestedService
}

// newEnv wires real services behind the same auth and idempotency middleware
// the production router uses.
func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	ctx := context.Background()

	mk := func(name, email string) *domain.User {
		u, err := repo.CreateUser(ctx, db, name, []string{domain.RoleUser},
			domain.Contact{Kind: domain.ContactEmail, Value: email, Standard: true})
		if err != nil {
			t.Fatalf("seed user: %v", err)
		}
		return u
	}
	e := &env{
		db:       db,
		offers:   services.NewOfferService(db, nil),
		messages: services.NewMessageService(db),
		owner:    mk("Olivia Owner", "olivia@example.com"),
		provider: mk("Paul Provider", "paul@example.com"),
		other:    mk("Oscar Other", "oscar@example.com"),
	}
	t.Cleanup(e.messages.Drain)

	svc, err := repo.CreateRequestedService(ctx, db, e.owner.ID, "Fix the roof", "leaks when it rains")
	if err != nil {
		t.Fatalf("seed service: %v", err)
	}
	e.service = svc

	h := New(e.offers, e.messages, &services.MembershipService{DB: db}, db)
	r := gin.New()
	api := r.Group("", middleware.Authenticate(auth.NewVerifier(handlerSecret)))
	api.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	api.POST("/requested-services/:id/offers", h.StartConversation)
	api.POST("/requested-services/:id/cancel", h.CancelRequestedService)
	api.POST("/conversations/:id/accept", h.AcceptOffer)
	api.POST("/conversations/:id/withdraw", h.WithdrawOffer)
	api.GET("/conversations/:id/messages", h.ListMessages)
	api.POST("/conversations/:id/messages", h.PostMessage)
	api.POST("/messages/:id/read", h.MarkMessageRead)
	e.router = r
	return e
}

func tokenFor(t *testing.T, userID uint) string {
	t.Helper()
	tok, err := auth.NewIssuer(handlerSecret, nil).Issue(userID, []string{domain.RoleUser}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

type call struct {
	method  string
	path    string
	body    string
	user    uint
	headers map[string]string
}

func (e *env) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = bytes.NewBufferString(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != 0 {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, c.user))
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// offer makes an offer by the provider and returns the new conversation.
func (e *env) offer(t *testing.T) domain.Conversation {
	t.Helper()
	w := e.do(t, call{
		method: http.MethodPost,
		path:   fmt.Sprintf("/requested-services/%d/offers", e.service.ID),
		body:   `{"message":"I can do it Tuesday"}`,
		user:   e.provider.ID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("offer -> %d body=%s", w.Code, w.Body.String())
	}
	return decode[domain.Conversation](t, w)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, status, w.Body.String())
	}
	er := decode[ErrorResponse](t, w)
	if er.Code != code {
		t.Fatalf("code = %q, want %q", er.Code, code)
	}
	return er
}
