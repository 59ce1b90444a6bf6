package ginserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"neighborhub/internal/app/commands"
	"neighborhub/internal/app/dto"
	chathandlers "neighborhub/internal/app/handlers/chat"
	"neighborhub/internal/app/middleware"
	"neighborhub/internal/app/queries"
	authsvc "neighborhub/internal/app/services/auth"
	domainanalytics "neighborhub/internal/domain/analytics"
	domainuser "neighborhub/internal/domain/user"
	"neighborhub/internal/infra/obs"
	"neighborhub/internal/infra/security"
	"neighborhub/internal/infra/storage/memory"
)

type recordingTracker struct {
	mu    sync.Mutex
	views []domainanalytics.ProductView
}

func (r *recordingTracker) Track(view domainanalytics.ProductView) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, view)
	return true
}

type memoryStorage struct{}

func (memoryStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error) {
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return "", err
	}
	return "/uploads/" + key, nil
}

type testServer struct {
	router  *gin.Engine
	tracker *recordingTracker
	tokens  map[string]string
	ids     map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := memory.NewUserRepository()
	issuer, err := security.NewJWTIssuer("test-secret", "")
	require.NoError(t, err)
	hasher := security.BcryptHasher{Cost: bcrypt.MinCost}
	auth := &authsvc.Service{
		Users:      users,
		Sessions:   memory.NewSessionStore(),
		Passwords:  hasher,
		Tokens:     issuer,
		SessionTTL: time.Hour,
	}

	factory := memory.NewFactory(users)
	box := memory.NewOutbox()
	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	chathandlers.Register(cmdBus, queryBus, chathandlers.Dependencies{
		UoWFactory:     factory,
		Outbox:         box,
		Storage:        memoryStorage{},
		MaxUploadBytes: 32,
		Transactional:  true,
	})
	chatHandler := ChatHandler{
		Commands: middleware.ChainCommands(cmdBus,
			middleware.Validation(middleware.SelfValidator{}),
			middleware.Idempotency(memory.NewIdempotencyStore(), nil),
			middleware.Transaction(factory, nil),
			middleware.OutboxFlush(box, nil),
		),
		Queries: middleware.ChainQueries(queryBus,
			middleware.QueryValidation(middleware.SelfValidator{}),
			middleware.QueryAuthorization(middleware.RoleAuthorizer{}),
		),
		MaxUploadBytes: 32,
	}

	tracker := &recordingTracker{}
	router := NewRouter(obs.Middleware{}, obs.HealthHandlers{}, Handlers{
		Chat:           chatHandler,
		Views:          ViewHandler{Tracker: tracker},
		Auth:           AuthHandler{Service: auth},
		AuthMiddleware: AuthMiddleware{Service: auth}.Handle,
	})

	ts := &testServer{router: router, tracker: tracker, tokens: map[string]string{}, ids: map[string]string{}}
	for _, name := range []string{"alice", "bob", "carol"} {
		rec := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"email":    name + "@example.com",
			"name":     name,
			"password": "password1",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp dto.AuthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		ts.tokens[name] = resp.Token
		ts.ids[name] = resp.User.ID
	}

	hash, err := hasher.Hash("password1")
	require.NoError(t, err)
	admin, err := domainuser.NewUser(domainuser.CreateParams{
		ID:           "admin-1",
		Email:        "admin@example.com",
		Name:         "Admin",
		PasswordHash: hash,
		Roles:        []domainuser.Role{domainuser.RoleAdmin},
	})
	require.NoError(t, err)
	require.NoError(t, users.Save(context.Background(), admin))
	login, err := auth.Login(context.Background(), authsvc.LoginParams{Email: "admin@example.com", Password: "password1"})
	require.NoError(t, err)
	ts.tokens["admin"] = login.Token
	ts.ids["admin"] = "admin-1"
	return ts
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) start(t *testing.T, who, other string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/chat/start", s.tokens[who], map[string]string{"userId": s.ids[other]})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp dto.StartConversationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ChatID)
	return resp.ChatID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAuthGate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/auth/me", s.tokens["alice"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[dto.UserProfile](t, rec)
	assert.Equal(t, s.ids["alice"], me.ID)
	assert.Equal(t, []string{"buyer"}, me.Roles)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/chat", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/chat", "garbage", nil).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", s.tokens["alice"], nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/auth/me", s.tokens["alice"], nil).Code)
}

func TestRegisterRejectsAdminRole(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "mallory@example.com", "name": "Mallory", "password": "password1", "role": "admin",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStartConversationRoute(t *testing.T) {
	s := newTestServer(t)
	first := s.start(t, "alice", "bob")
	second := s.start(t, "bob", "alice")
	assert.Equal(t, first, second)

	rec := s.do(t, http.MethodPost, "/api/v1/chat/start", s.tokens["alice"], map[string]string{"userId": s.ids["alice"]})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/chat/start", s.tokens["alice"], map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "userId is required", decode[map[string]string](t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/api/v1/chat/start", s.tokens["alice"], map[string]string{
		"userId": s.ids["bob"], "itemId": "i1", "serviceId": "s1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/chat/start", s.tokens["alice"], map[string]string{
		"userId": s.ids["bob"], "itemId": "i1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	scoped := decode[dto.StartConversationResult](t, rec)
	assert.NotEqual(t, first, scoped.ChatID)
	require.NotNil(t, scoped.Chat.ItemID)
	assert.Equal(t, "i1", *scoped.Chat.ItemID)
	assert.Nil(t, scoped.Chat.ServiceID)
}

func TestSendListAndMarkRead(t *testing.T) {
	s := newTestServer(t)
	chatID := s.start(t, "alice", "bob")

	rec := s.do(t, http.MethodPost, "/api/v1/chat/"+chatID+"/message", s.tokens["alice"], map[string]string{"text": "hi bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := decode[dto.SendMessageResult](t, rec)
	assert.Equal(t, s.ids["bob"], sent.Message.Receiver)
	assert.False(t, sent.Message.Read)
	assert.Equal(t, "hi bob", sent.Chat.LastMessage)

	rec = s.do(t, http.MethodGet, "/api/v1/chat", s.tokens["bob"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decode[[]dto.Conversation](t, rec)
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].Unread)
	assert.Equal(t, "hi bob", convs[0].LastMessage)
	require.Len(t, convs[0].Participants, 2)
	for _, p := range convs[0].Participants {
		assert.NotEmpty(t, p.Name)
		assert.NotEmpty(t, p.Email)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/chat/"+chatID+"/messages", s.tokens["bob"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]dto.Message](t, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, chatID, msgs[0].ChatID)

	rec = s.do(t, http.MethodPatch, "/api/v1/chat/"+chatID+"/read", s.tokens["bob"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	marked := decode[dto.MarkReadResult](t, rec)
	assert.Equal(t, "Marked as read", marked.Message)
	assert.Equal(t, 1, marked.Updated)

	rec = s.do(t, http.MethodPatch, "/api/v1/chat/"+chatID+"/read", s.tokens["bob"], nil)
	assert.Equal(t, 0, decode[dto.MarkReadResult](t, rec).Updated)

	convs = decode[[]dto.Conversation](t, s.do(t, http.MethodGet, "/api/v1/chat", s.tokens["bob"], nil))
	assert.Equal(t, 0, convs[0].Unread)
}

func TestSendErrors(t *testing.T) {
	s := newTestServer(t)
	chatID := s.start(t, "alice", "bob")

	rec := s.do(t, http.MethodPost, "/api/v1/chat/"+chatID+"/message", s.tokens["carol"], map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[map[string]string](t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/api/v1/chat/ffffffffffffffffffffffff/message", s.tokens["alice"], map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/chat/"+chatID+"/message", s.tokens["alice"], map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/chat/"+chatID+"/messages", s.tokens["carol"], nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPatch, "/api/v1/chat/"+chatID+"/read", s.tokens["carol"], nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/chat/"+chatID+"/messages", s.tokens["admin"], nil).Code)
}

func TestSendWithIdempotencyKeyStoresOnce(t *testing.T) {
	s := newTestServer(t)
	chatID := s.start(t, "alice", "bob")

	first := s.do(t, http.MethodPost, "/api/v1/chat/"+chatID+"/message", s.tokens["alice"], map[string]string{"text": "once"}, IdempotencyKeyHeader, "k-1")
	second := s.do(t, http.MethodPost, "/api/v1/chat/"+chatID+"/message", s.tokens["alice"], map[string]string{"text": "once"}, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, decode[dto.SendMessageResult](t, first).Message.ID, decode[dto.SendMessageResult](t, second).Message.ID)

	msgs := decode[[]dto.Message](t, s.do(t, http.MethodGet, "/api/v1/chat/"+chatID+"/messages", s.tokens["alice"], nil))
	assert.Len(t, msgs, 1)
}

func TestAdminListRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	s.start(t, "alice", "bob")
	s.start(t, "bob", "carol")

	rec := s.do(t, http.MethodGet, "/api/v1/chat/admin/all", s.tokens["alice"], nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/chat/admin/all", s.tokens["admin"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]dto.Conversation](t, rec), 2)
}

func TestUploadRoute(t *testing.T) {
	s := newTestServer(t)
	chatID := s.start(t, "alice", "bob")

	upload := func(token, field string, content []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if field != "" {
			part, err := w.CreateFormFile(field, "photo.JPG")
			require.NoError(t, err)
			_, err = part.Write(content)
			require.NoError(t, err)
		}
		require.NoError(t, w.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/"+chatID+"/upload", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	rec := upload(s.tokens["alice"], "file", []byte("jpeg-bytes"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	url := decode[dto.UploadResult](t, rec).URL
	assert.True(t, strings.HasPrefix(url, "/uploads/chat/"+chatID+"/"), url)
	assert.True(t, strings.HasSuffix(url, ".jpg"), url)

	assert.Equal(t, http.StatusBadRequest, upload(s.tokens["alice"], "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, upload(s.tokens["alice"], "file", bytes.Repeat([]byte("x"), 64)).Code)
	assert.Equal(t, http.StatusForbidden, upload(s.tokens["carol"], "file", []byte("x")).Code)
}

func TestTrackViewAcceptsAnonymousAndAuthenticated(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/views", "", map[string]string{"productId": "p1", "productType": "item"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/views", s.tokens["bob"], map[string]string{"productId": "p2", "productType": "Service"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/views", "", map[string]string{"productId": "p3", "productType": "car"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.tracker.mu.Lock()
	defer s.tracker.mu.Unlock()
	require.Len(t, s.tracker.views, 2)
	assert.Equal(t, domainanalytics.ViewerAnonymous, s.tracker.views[0].ViewerRole)
	assert.Empty(t, s.tracker.views[0].ViewedBy)
	assert.Equal(t, domainanalytics.ProductService, s.tracker.views[1].ProductType)
	assert.Equal(t, s.ids["bob"], s.tracker.views[1].ViewedBy)
	assert.Equal(t, domainanalytics.ViewerBuyer, s.tracker.views[1].ViewerRole)
}

func TestHealthAndSwagger(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/livez", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", "", nil).Code)
	rec := s.do(t, http.MethodGet, "/swagger/doc.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, json.Valid(rec.Body.Bytes()))
}

func TestTrimErrorPrefix(t *testing.T) {
	assert.Equal(t, "conversation not found", trimErrorPrefix("chat: conversation not found"))
	assert.Equal(t, "no prefix here: really", trimErrorPrefix("no prefix here: really"))
}
