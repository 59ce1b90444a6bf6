package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"neighborhub/internal/app/dto"
)

var (
	ErrValidation   = errors.New("chatclient: invalid request")
	ErrUnauthorized = errors.New("chatclient: unauthorized")
	ErrForbidden    = errors.New("chatclient: forbidden")
	ErrNotFound     = errors.New("chatclient: not found")
	ErrConflict     = errors.New("chatclient: conflict")
	ErrInternal     = errors.New("chatclient: server error")
)

const idempotencyHeader = "Idempotency-Key"

// APIError carries the status and server message of a failed call. It
// unwraps to one of the sentinel errors above.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chatclient: http %d", e.Status)
	}
	return fmt.Sprintf("chatclient: http %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusBadRequest || e.Status == http.StatusRequestEntityTooLarge:
		return ErrValidation
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return ErrForbidden
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusConflict:
		return ErrConflict
	default:
		return ErrInternal
	}
}

// Session is the identity a client acts as. It is passed explicitly; nothing is cached globally.
type Session struct {
	BaseURL string
	Token   string
	UserID  string
}

type Client struct {
	session Session
	http    *http.Client
}

func NewClient(session Session, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	session.BaseURL = strings.TrimRight(session.BaseURL, "/")
	return &Client{session: session, http: httpClient}
}

func (c *Client) Session() Session { return c.session }

// Login authenticates against baseURL and returns the resulting session.
func Login(ctx context.Context, httpClient *http.Client, baseURL, email, password string) (Session, error) {
	anon := NewClient(Session{BaseURL: baseURL}, httpClient)
	var resp dto.AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := anon.do(ctx, http.MethodPost, "/api/v1/auth/login", body, nil, &resp); err != nil {
		return Session{}, err
	}
	return Session{BaseURL: anon.session.BaseURL, Token: resp.Token, UserID: resp.User.ID}, nil
}

type RegisterParams struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	Password       string `json:"password"`
	Role           string `json:"role,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Register creates an account and returns a session for it.
func Register(ctx context.Context, httpClient *http.Client, baseURL string, params RegisterParams) (Session, error) {
	anon := NewClient(Session{BaseURL: baseURL}, httpClient)
	var resp dto.AuthResponse
	if err := anon.do(ctx, http.MethodPost, "/api/v1/auth/register", params, nil, &resp); err != nil {
		return Session{}, err
	}
	return Session{BaseURL: anon.session.BaseURL, Token: resp.Token, UserID: resp.User.ID}, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil, nil)
}

// StartParams names the other participant and an optional listing.
type StartParams struct {
	UserID    string `json:"userId"`
	ItemID    string `json:"itemId,omitempty"`
	ServiceID string `json:"serviceId,omitempty"`
}

func (c *Client) StartConversation(ctx context.Context, params StartParams) (dto.StartConversationResult, error) {
	var out dto.StartConversationResult
	err := c.do(ctx, http.MethodPost, "/api/v1/chat/start", params, nil, &out)
	return out, err
}

func (c *Client) ListConversations(ctx context.Context) ([]dto.Conversation, error) {
	var out []dto.Conversation
	err := c.do(ctx, http.MethodGet, "/api/v1/chat", nil, nil, &out)
	return out, err
}

// ListAllConversations requires the admin role.
func (c *Client) ListAllConversations(ctx context.Context) ([]dto.Conversation, error) {
	var out []dto.Conversation
	err := c.do(ctx, http.MethodGet, "/api/v1/chat/admin/all", nil, nil, &out)
	return out, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]dto.Message, error) {
	var out []dto.Message
	err := c.do(ctx, http.MethodGet, "/api/v1/chat/"+url.PathEscape(conversationID)+"/messages", nil, nil, &out)
	return out, err
}

// SendMessage posts text and/or a media URL. A non-empty idempotencyKey makes retries safe.
func (c *Client) SendMessage(ctx context.Context, conversationID, text, media, idempotencyKey string) (dto.SendMessageResult, error) {
	var out dto.SendMessageResult
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers[idempotencyHeader] = idempotencyKey
	}
	body := map[string]string{"text": text, "media": media}
	err := c.do(ctx, http.MethodPost, "/api/v1/chat/"+url.PathEscape(conversationID)+"/message", body, headers, &out)
	return out, err
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) (dto.MarkReadResult, error) {
	var out dto.MarkReadResult
	err := c.do(ctx, http.MethodPatch, "/api/v1/chat/"+url.PathEscape(conversationID)+"/read", nil, nil, &out)
	return out, err
}

// Upload sends file as the multipart field "file" and returns the stored URL.
func (c *Client) Upload(ctx context.Context, conversationID, filename string, file io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/chat/"+url.PathEscape(conversationID)+"/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out dto.UploadResult
	if err := c.send(req, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// TrackView reports a listing page view; the server accepts it asynchronously.
func (c *Client) TrackView(ctx context.Context, productID, productType string) error {
	body := map[string]string{"productId": productID, "productType": productType}
	return c.do(ctx, http.MethodPost, "/api/v1/views", body, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.session.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chatclient: decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
