// Package rest is the client for the chat server's HTTP API: the request and
// response collaborators around the socket (listing, read receipts, settings,
// search, uploads).
package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/jinzhu/copier"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/wire"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// DefaultPageSize is used when a list call passes a non-positive limit.
const DefaultPageSize = 20

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error: %d %s", e.StatusCode, e.Message)
}

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the chat server's HTTP API.
type Client struct {
	http       *resty.Client
	normalizer *wire.Normalizer
	logger     *zap.Logger
}

// New creates a client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	if cfg.Token != "" {
		h.SetAuthToken(cfg.Token)
	}
	return &Client{http: h, normalizer: wire.NewNormalizer(nil), logger: logger}
}

// do executes a request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, build func(*resty.Request)) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if build != nil {
		build(req)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		body := gjson.ParseBytes(resp.Body())
		msg := body.Get("message").String()
		if msg == "" {
			msg = body.Get("error").String()
		}
		c.logger.Debug("api error", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode()))
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: msg}
	}
	return resp.Body(), nil
}

// payload unwraps the common {"data": ...} envelope.
func payload(body []byte) gjson.Result {
	r := gjson.ParseBytes(body)
	if d := r.Get("data"); d.Exists() {
		return d
	}
	return r
}

// list finds the array in a response: the body itself, or the first of keys.
func list(r gjson.Result, keys ...string) []gjson.Result {
	if r.IsArray() {
		return r.Array()
	}
	for _, k := range keys {
		if v := r.Get(k); v.IsArray() {
			return v.Array()
		}
	}
	return nil
}

func pageParams(req *resty.Request, page, limit int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	req.SetQueryParams(map[string]string{
		"page":  strconv.Itoa(page),
		"limit": strconv.Itoa(limit),
	})
}

// Conversations fetches one page of the conversation list.
func (c *Client) Conversations(ctx context.Context, page, limit int) ([]chat.Conversation, error) {
	body, err := c.do(ctx, http.MethodGet, "/conversations", func(r *resty.Request) { pageParams(r, page, limit) })
	if err != nil {
		return nil, err
	}
	var out []chat.Conversation
	for _, item := range list(payload(body), "conversations", "items") {
		conv, err := c.normalizer.Conversation([]byte(item.Raw))
		if err != nil {
			c.logger.Debug("skipping conversation", zap.Error(err))
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}

// Messages fetches one page of a conversation, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string, page, limit int) ([]chat.Message, error) {
	body, err := c.do(ctx, http.MethodGet, "/conversations/{id}/messages", func(r *resty.Request) {
		r.SetPathParam("id", conversationID)
		pageParams(r, page, limit)
	})
	if err != nil {
		return nil, err
	}
	var out []chat.Message
	for _, item := range list(payload(body), "messages", "items") {
		m, err := c.normalizer.Message([]byte(item.Raw))
		if err != nil {
			c.logger.Debug("skipping message", zap.Error(err))
			continue
		}
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b chat.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// CreateConversation opens (or returns the existing) conversation with a user.
func (c *Client) CreateConversation(ctx context.Context, participantID string) (chat.Conversation, error) {
	body, err := c.do(ctx, http.MethodPost, "/conversations", func(r *resty.Request) {
		r.SetBody(map[string]string{"participantId": participantID})
	})
	if err != nil {
		return chat.Conversation{}, err
	}
	p := payload(body)
	if conv := p.Get("conversation"); conv.IsObject() {
		p = conv
	}
	return c.normalizer.Conversation([]byte(p.Raw))
}

// MarkConversationRead marks a conversation read on the server and returns
// how many messages it actually marked.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) (int, error) {
	body, err := c.do(ctx, http.MethodPut, "/conversations/{id}/read", func(r *resty.Request) {
		r.SetPathParam("id", conversationID)
	})
	if err != nil {
		return 0, err
	}
	p := payload(body)
	for _, key := range []string{"count", "markedCount", "modifiedCount"} {
		if v := p.Get(key); v.Exists() {
			return int(v.Int()), nil
		}
	}
	return 0, nil
}

// UnreadCount returns the server's global unread total.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	body, err := c.do(ctx, http.MethodGet, "/messages/unread-count", nil)
	if err != nil {
		return 0, err
	}
	p := payload(body)
	if p.Type == gjson.Number {
		return int(p.Int()), nil
	}
	for _, key := range []string{"count", "unreadCount", "total"} {
		if v := p.Get(key); v.Exists() {
			return int(v.Int()), nil
		}
	}
	return 0, nil
}

// userDTO is the search response shape. ID is filled from whichever id
// field the server sent.
type userDTO struct {
	ID       string `json:"-"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
}

// SearchUsers looks users up by name.
func (c *Client) SearchUsers(ctx context.Context, query string, limit int) ([]chat.UserSummary, error) {
	body, err := c.do(ctx, http.MethodGet, "/users/search", func(r *resty.Request) {
		r.SetQueryParam("q", query)
		if limit > 0 {
			r.SetQueryParam("limit", strconv.Itoa(limit))
		}
	})
	if err != nil {
		return nil, err
	}
	var out []chat.UserSummary
	for _, item := range list(payload(body), "users", "items") {
		var dto userDTO
		if err := json.Unmarshal([]byte(item.Raw), &dto); err != nil {
			continue
		}
		dto.ID = wire.CanonicalID(item)
		if dto.ID == "" {
			continue
		}
		var u chat.UserSummary
		if err := copier.Copy(&u, &dto); err != nil {
			return nil, fmt.Errorf("map user: %w", err)
		}
		out = append(out, u)
	}
	return out, nil
}

// DeleteMessage deletes a message for the current user only.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/messages/{id}", func(r *resty.Request) {
		r.SetPathParam("id", messageID)
	})
	return err
}

// RecallMessage recalls a message for every participant. The server enforces
// the recall window.
func (c *Client) RecallMessage(ctx context.Context, messageID string) error {
	_, err := c.do(ctx, http.MethodPost, "/messages/{id}/recall", func(r *resty.Request) {
		r.SetPathParam("id", messageID)
	})
	return err
}

// AcceptPending accepts a pending message. The returned message is the
// server copy when the response carries one.
func (c *Client) AcceptPending(ctx context.Context, messageID string) (*chat.Message, error) {
	body, err := c.do(ctx, http.MethodPost, "/messages/{id}/accept", func(r *resty.Request) {
		r.SetPathParam("id", messageID)
	})
	if err != nil {
		return nil, err
	}
	p := payload(body)
	if m := p.Get("message"); m.IsObject() {
		p = m
	}
	if !p.IsObject() {
		return nil, nil
	}
	msg, err := c.normalizer.Message([]byte(p.Raw))
	if err != nil {
		return nil, nil
	}
	return &msg, nil
}

// RejectPending rejects a pending message.
func (c *Client) RejectPending(ctx context.Context, messageID string) error {
	_, err := c.do(ctx, http.MethodPost, "/messages/{id}/reject", func(r *resty.Request) {
		r.SetPathParam("id", messageID)
	})
	return err
}

// Settings fetches per-conversation settings.
func (c *Client) Settings(ctx context.Context, conversationID string) (chat.ConversationSettings, error) {
	body, err := c.do(ctx, http.MethodGet, "/conversations/{id}/settings", func(r *resty.Request) {
		r.SetPathParam("id", conversationID)
	})
	if err != nil {
		return chat.ConversationSettings{}, err
	}
	return settingsFrom(conversationID, payload(body)), nil
}

// UpdateSettings stores per-conversation settings and returns what the server kept.
func (c *Client) UpdateSettings(ctx context.Context, s chat.ConversationSettings) (chat.ConversationSettings, error) {
	body, err := c.do(ctx, http.MethodPut, "/conversations/{id}/settings", func(r *resty.Request) {
		r.SetPathParam("id", s.ConversationID).SetBody(s)
	})
	if err != nil {
		return chat.ConversationSettings{}, err
	}
	p := payload(body)
	if !p.IsObject() {
		return s, nil
	}
	return settingsFrom(s.ConversationID, p), nil
}

func settingsFrom(conversationID string, p gjson.Result) chat.ConversationSettings {
	if s := p.Get("settings"); s.IsObject() {
		p = s
	}
	return chat.ConversationSettings{
		ConversationID:    conversationID,
		RequireAcceptance: p.Get("requireAcceptance").Bool(),
		Muted:             p.Get("muted").Bool(),
	}
}

// Upload sends a file and returns it as an attachment.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (chat.Attachment, error) {
	body, err := c.do(ctx, http.MethodPost, "/upload", func(req *resty.Request) {
		req.SetFileReader("file", name, r)
	})
	if err != nil {
		return chat.Attachment{}, err
	}
	p := payload(body)
	att := chat.Attachment{
		URL:      p.Get("url").String(),
		Name:     name,
		MimeType: p.Get("mimeType").String(),
		Size:     p.Get("size").Int(),
	}
	if att.URL == "" {
		return chat.Attachment{}, fmt.Errorf("upload %s: response carried no url", name)
	}
	return att, nil
}
