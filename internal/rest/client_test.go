package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/matheus3301/chatsync/internal/chat"
)

type route struct {
	status int
	body   string
}

// fakeAPI serves canned responses keyed by "METHOD path" and records requests.
func fakeAPI(t *testing.T, routes map[string]route) (*Client, func() []*http.Request) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []*http.Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Clone(context.Background()))
		mu.Unlock()
		rt, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if rt.status == 0 {
			rt.status = http.StatusOK
		}
		w.WriteHeader(rt.status)
		_, _ = io.WriteString(w, rt.body)
	}))
	t.Cleanup(srv.Close)
	requests := func() []*http.Request {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(seen)
	}
	return New(Config{BaseURL: srv.URL, Token: "tok"}, nil), requests
}

func TestConversationsPage(t *testing.T) {
	c, seen := fakeAPI(t, map[string]route{
		"GET /conversations": {body: `{"data":[
			{"_id":"c1","participants":[{"_id":"a","username":"ann"},"b"],"unreadCount":2},
			{"participants":["x"]},
			{"id":"c2","participants":["a","c"]}
		]}`},
	})
	convs, err := c.Conversations(context.Background(), 2, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].ID != "c1" || convs[1].ID != "c2" {
		t.Fatalf("convs = %+v", convs)
	}
	if convs[0].UnreadCount != 2 || len(convs[0].ParticipantDetails) != 1 {
		t.Errorf("c1 = %+v", convs[0])
	}
	req := seen()[0]
	if req.URL.Query().Get("page") != "2" || req.URL.Query().Get("limit") != "10" {
		t.Errorf("query = %v", req.URL.Query())
	}
	if req.Header.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization = %q", req.Header.Get("Authorization"))
	}
}

func TestMessagesOldestFirst(t *testing.T) {
	c, _ := fakeAPI(t, map[string]route{
		"GET /conversations/c1/messages": {body: `{"messages":[
			{"_id":"m2","senderId":"b","content":"second","createdAt":"2026-01-01T10:01:00Z"},
			{"_id":"m1","senderId":{"_id":"a"},"content":"first","createdAt":"2026-01-01T10:00:00Z"}
		]}`},
	})
	msgs, err := c.Messages(context.Background(), "c1", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("msgs = %+v", msgs)
	}
	if msgs[0].ConversationID != "c1" || msgs[0].SenderID != "a" {
		t.Errorf("m1 = %+v", msgs[0])
	}
}

func TestMarkConversationReadCount(t *testing.T) {
	c, _ := fakeAPI(t, map[string]route{
		"PUT /conversations/c1/read": {body: `{"success":true,"data":{"modifiedCount":3}}`},
	})
	n, err := c.MarkConversationRead(context.Background(), "c1")
	if err != nil || n != 3 {
		t.Errorf("MarkConversationRead() = %d, %v", n, err)
	}
}

func TestAPIError(t *testing.T) {
	c, _ := fakeAPI(t, map[string]route{
		"POST /messages/m1/recall": {status: http.StatusForbidden, body: `{"message":"recall window expired"}`},
	})
	err := c.RecallMessage(context.Background(), "m1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "recall window expired" {
		t.Errorf("apiErr = %+v", apiErr)
	}

	if _, err := c.UnreadCount(context.Background()); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route error = %v", err)
	}
}

func TestUnreadCountShapes(t *testing.T) {
	for _, body := range []string{`{"count":7}`, `{"data":7}`, `{"data":{"unreadCount":7}}`} {
		c, _ := fakeAPI(t, map[string]route{"GET /messages/unread-count": {body: body}})
		n, err := c.UnreadCount(context.Background())
		if err != nil || n != 7 {
			t.Errorf("body %s: UnreadCount() = %d, %v", body, n, err)
		}
	}
}

func TestSearchUsersMapsDTO(t *testing.T) {
	c, seen := fakeAPI(t, map[string]route{
		"GET /users/search": {body: `{"users":[
			{"_id":{"$oid":"u1"},"username":"ann","fullName":"Ann Lee","avatar":"a.png"},
			{"username":"ghost"}
		]}`},
	})
	users, err := c.SearchUsers(context.Background(), "an", 5)
	if err != nil {
		t.Fatal(err)
	}
	want := chat.UserSummary{ID: "u1", Username: "ann", FullName: "Ann Lee", Avatar: "a.png"}
	if len(users) != 1 || users[0] != want {
		t.Errorf("users = %+v", users)
	}
	if seen()[0].URL.Query().Get("q") != "an" {
		t.Errorf("query = %v", seen()[0].URL.Query())
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	c, seen := fakeAPI(t, map[string]route{
		"GET /conversations/c1/settings": {body: `{"settings":{"requireAcceptance":true}}`},
		"PUT /conversations/c1/settings": {body: `{"data":{"requireAcceptance":false,"muted":true}}`},
	})
	s, err := c.Settings(context.Background(), "c1")
	if err != nil || !s.RequireAcceptance || s.ConversationID != "c1" {
		t.Fatalf("Settings() = %+v, %v", s, err)
	}
	got, err := c.UpdateSettings(context.Background(), chat.ConversationSettings{ConversationID: "c1", Muted: true})
	if err != nil || !got.Muted || got.RequireAcceptance {
		t.Errorf("UpdateSettings() = %+v, %v", got, err)
	}
	if ct := seen()[1].Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestAcceptPendingReturnsMessage(t *testing.T) {
	c, _ := fakeAPI(t, map[string]route{
		"POST /messages/p1/accept": {body: `{"message":{"_id":"p1","conversationId":"c1","senderId":"b","content":"hi"}}`},
		"POST /messages/p2/accept": {body: `{"success":true}`},
	})
	m, err := c.AcceptPending(context.Background(), "p1")
	if err != nil || m == nil || m.ID != "p1" || m.ConversationID != "c1" {
		t.Errorf("AcceptPending(p1) = %+v, %v", m, err)
	}
	m, err = c.AcceptPending(context.Background(), "p2")
	if err != nil || m != nil {
		t.Errorf("AcceptPending(p2) = %+v, %v, want nil message", m, err)
	}
}

func TestUpload(t *testing.T) {
	c, seen := fakeAPI(t, map[string]route{
		"POST /upload": {body: `{"url":"https://cdn/x.png","mimeType":"image/png","size":3}`},
	})
	att, err := c.Upload(context.Background(), "x.png", strings.NewReader("png"))
	if err != nil {
		t.Fatal(err)
	}
	if att.URL != "https://cdn/x.png" || att.Name != "x.png" || att.Size != 3 {
		t.Errorf("att = %+v", att)
	}
	if ct := seen()[0].Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/form-data") {
		t.Errorf("Content-Type = %q", ct)
	}
}
