package api

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/pending"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/settings"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/unread"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeTransport acknowledges every sendMessage with a server copy.
type fakeTransport struct {
	mu       sync.Mutex
	pipe     *outbox.Pipeline
	received []wire.SendMessage
}

func (f *fakeTransport) OnEvent(string, conn.Handler) func() { return func() {} }

func (f *fakeTransport) SendEvent(_ context.Context, name string, payload any) error {
	if name != wire.EventSendMessage {
		return nil
	}
	req := payload.(wire.SendMessage)
	f.mu.Lock()
	f.received = append(f.received, req)
	pipe := f.pipe
	f.mu.Unlock()
	go pipe.HandleAck(wire.MessageSent{
		Success: true,
		TempID:  req.TempID,
		Message: &chat.Message{
			ID:             "srv-" + req.TempID,
			ConversationID: "c1",
			SenderID:       req.SenderID,
			ReceiverID:     req.ReceiverID,
			Content:        req.Content,
			MessageType:    req.MessageType,
			CreatedAt:      time.Now(),
		},
	})
	return nil
}

func (f *fakeTransport) receivers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.received {
		out = append(out, r.ReceiverID)
	}
	return out
}

type fakeServer struct {
	settings chat.ConversationSettings
}

func (fakeServer) Conversations(context.Context, int, int) ([]chat.Conversation, error) {
	return nil, nil
}
func (fakeServer) Messages(context.Context, string, int, int) ([]chat.Message, error) {
	return nil, nil
}
func (fakeServer) CreateConversation(_ context.Context, id string) (chat.Conversation, error) {
	return chat.Conversation{ID: "c-" + id, ParticipantIDs: []string{"a", id}}, nil
}
func (fakeServer) RecallMessage(context.Context, string) error                  { return nil }
func (fakeServer) DeleteMessage(context.Context, string) error                  { return nil }
func (fakeServer) MarkConversationRead(context.Context, string) (int, error)    { return 3, nil }
func (fakeServer) UnreadCount(context.Context) (int, error)                     { return 0, nil }
func (fakeServer) AcceptPending(context.Context, string) (*chat.Message, error) { return nil, nil }
func (fakeServer) RejectPending(context.Context, string) error                  { return nil }

func (f *fakeServer) Settings(_ context.Context, id string) (chat.ConversationSettings, error) {
	s := f.settings
	s.ConversationID = id
	return s, nil
}

func (f *fakeServer) UpdateSettings(_ context.Context, s chat.ConversationSettings) (chat.ConversationSettings, error) {
	f.settings = s
	return s, nil
}

func (fakeServer) SearchUsers(_ context.Context, q string, _ int) ([]chat.UserSummary, error) {
	return []chat.UserSummary{{ID: "u9", Username: q}}, nil
}

func (fakeServer) Upload(_ context.Context, name string, r io.Reader) (chat.Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return chat.Attachment{}, err
	}
	return chat.Attachment{URL: "https://cdn.test/" + name, Name: name, Size: int64(len(data))}, nil
}

type fixture struct {
	client *Client
	store  *store.Store
	engine *intsync.Engine
	tr     *fakeTransport
	bus    *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	db, _, err := store.OpenFresh(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	st := store.New("a", db, b, time.Second, logger)
	st.Dispatch(state.SetConversations{Conversations: []chat.Conversation{
		{ID: "c1", ParticipantIDs: []string{"a", "b"}},
		{ID: "c2", ParticipantIDs: []string{"a", "c"}},
	}})

	srv := &fakeServer{settings: chat.ConversationSettings{RequireAcceptance: true}}
	tr := &fakeTransport{}
	pipe := outbox.NewPipeline(st, tr, b, 0, time.Second, logger)
	tr.pipe = pipe
	tracker := presence.NewTracker(st, tr, time.Hour, logger)
	engine := intsync.NewEngine(intsync.Deps{
		Store:    st,
		Conn:     tr,
		API:      srv,
		Outbox:   pipe,
		Presence: tracker,
		Unread:   unread.NewService(st, tr, srv, logger),
		Pending:  pending.NewWorkflow(st, srv, b, logger),
		Bus:      b,
		Logger:   logger,
	}, intsync.Options{})

	svc := NewService("test", status.NewMachine(b), engine, db, settings.NewProvider(db, srv, logger), srv, logger)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	Register(gs, svc)
	go func() { _ = gs.Serve(lis) }()

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = cc.Close()
		gs.Stop()
		pipe.Close()
		tracker.Close()
		st.Close()
	})
	return &fixture{client: NewClient(cc), store: st, engine: engine, tr: tr, bus: b}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func wantCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := grpcstatus.Code(err); got != want {
		t.Errorf("code = %v (%v), want %v", got, err, want)
	}
}

func TestStatusAndConversations(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	st, err := f.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Profile != "test" || st.UserID != "a" || st.Status != "disconnected" || st.Conversations != 2 {
		t.Errorf("status = %+v", st)
	}

	convs, err := f.client.Conversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs.Conversations) != 2 || convs.Conversations[0].ID == "" {
		t.Errorf("conversations = %+v", convs.Conversations)
	}
}

func TestSendInvalidIsInvalidArgument(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Send(testCtx(t), SendRequest{ReceiverID: "b", Content: "   "})
	wantCode(t, err, codes.InvalidArgument)
	if n := len(f.tr.receivers()); n != 0 {
		t.Errorf("%d frames sent for an invalid message", n)
	}
}

func TestSendByConversationWaitsForAck(t *testing.T) {
	f := newFixture(t)
	reply, err := f.client.Send(testCtx(t), SendRequest{ConversationID: "c1", Content: "hi", Wait: true})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !reply.Confirmed || reply.Message.Content != "hi" || chat.IsTempID(reply.Message.ID) {
		t.Errorf("reply = %+v", reply)
	}
	if got := f.tr.receivers(); len(got) != 1 || got[0] != "b" {
		t.Errorf("receivers = %v, want [b]", got)
	}
	thread := f.store.Snapshot().Thread("c1")
	if len(thread) != 1 || thread[0].ID != reply.Message.ID {
		t.Errorf("thread = %+v", thread)
	}
}

func TestSendUploadsFiles(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte("png!"), 0o600); err != nil {
		t.Fatal(err)
	}
	reply, err := f.client.Send(testCtx(t), SendRequest{ReceiverID: "b", MessageType: chat.TypeImage, Files: []string{path}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	atts := reply.Message.Attachments
	if len(atts) != 1 || atts[0].URL != "https://cdn.test/photo.png" || atts[0].Size != 4 {
		t.Errorf("attachments = %+v", atts)
	}

	_, err = f.client.Send(testCtx(t), SendRequest{ReceiverID: "b", Files: []string{filepath.Join(t.TempDir(), "missing.png")}})
	wantCode(t, err, codes.InvalidArgument)
}

func TestSendUnknownConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Send(testCtx(t), SendRequest{ConversationID: "nope", Content: "hi"})
	wantCode(t, err, codes.NotFound)
}

func TestPendingDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	_, err := f.client.Accept(ctx, "missing")
	wantCode(t, err, codes.NotFound)

	f.engine.Pending.HandlePending(chat.PendingMessage{
		MessageID: "p1",
		Sender:    chat.UserSummary{ID: "z"},
		Message:   chat.Message{ID: "p1", ConversationID: "c1", SenderID: "z", ReceiverID: "a", Content: "hey"},
	})
	list, err := f.client.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Pending) != 1 || list.Pending[0].MessageID != "p1" {
		t.Fatalf("pending = %+v", list.Pending)
	}

	if err := f.client.Reject(ctx, "p1"); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	_, err = f.client.Accept(ctx, "p1")
	wantCode(t, err, codes.FailedPrecondition)
}

func TestOpenAndMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	_, err := f.client.Open(ctx, "nope")
	wantCode(t, err, codes.NotFound)

	open, err := f.client.Open(ctx, "c2")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if open.Conversation.ID != "c2" {
		t.Errorf("opened %+v", open.Conversation)
	}
	n, err := f.client.MarkRead(ctx, "c1")
	if err != nil || n != 3 {
		t.Errorf("MarkRead() = %d, %v", n, err)
	}
	if err := f.client.CloseConversation(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if cur := f.store.Snapshot().CurrentConversationID; cur != "" {
		t.Errorf("current after close = %q", cur)
	}
}

func TestJournal(t *testing.T) {
	f := newFixture(t)
	reply, err := f.client.Journal(testCtx(t), JournalRequest{})
	if err != nil {
		t.Fatalf("Journal() error = %v", err)
	}
	if len(reply.Entries) < 2 {
		t.Fatalf("entries = %+v", reply.Entries)
	}
	if reply.Entries[0].Kind != "setSelf" || reply.Entries[1].Kind != "setConversations" {
		t.Errorf("kinds = %s, %s", reply.Entries[0].Kind, reply.Entries[1].Kind)
	}
	if len(reply.Entries[1].Payload) == 0 {
		t.Error("payload missing")
	}

	after, err := f.client.Journal(testCtx(t), JournalRequest{AfterSeq: reply.Entries[0].Seq, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(after.Entries) != 1 || after.Entries[0].Kind != "setConversations" {
		t.Errorf("after = %+v", after.Entries)
	}
}

func TestSettingsPartialUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	got, err := f.client.Settings(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Settings.RequireAcceptance || got.Settings.Muted {
		t.Errorf("settings = %+v", got.Settings)
	}

	muted := true
	upd, err := f.client.UpdateSettings(ctx, SettingsUpdate{ConversationID: "c1", Muted: &muted})
	if err != nil {
		t.Fatal(err)
	}
	if !upd.Settings.Muted || !upd.Settings.RequireAcceptance {
		t.Errorf("updated = %+v", upd.Settings)
	}

	_, err = f.client.UpdateSettings(ctx, SettingsUpdate{})
	wantCode(t, err, codes.InvalidArgument)
}

func TestSearchUsers(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	users, err := f.client.SearchUsers(ctx, "bob", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(users.Users) != 1 || users.Users[0].Username != "bob" {
		t.Errorf("users = %+v", users.Users)
	}
	_, err = f.client.SearchUsers(ctx, "", 5)
	wantCode(t, err, codes.InvalidArgument)
}

func TestWatchEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Event, 1)
	go func() {
		_ = f.client.Watch(ctx, "pending.", func(evt Event) error {
			select {
			case got <- evt:
			default:
			}
			return nil
		})
	}()

	// The subscription is registered asynchronously; publish until it lands.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case evt := <-got:
			if evt.Kind != bus.KindPendingDecided || evt.Profile != "test" || evt.ID == "" {
				t.Errorf("event = %+v", evt)
			}
			if len(evt.Payload) == 0 {
				t.Error("payload missing")
			}
			return
		case <-ticker.C:
			f.bus.Publish(bus.Event{Kind: bus.KindStoreChanged, Timestamp: time.Now()})
			f.bus.Publish(bus.Event{
				Kind:      bus.KindPendingDecided,
				Timestamp: time.Now(),
				Payload:   pending.Decision{MessageID: "p1", Decision: chat.PendingAccepted},
			})
		case <-ctx.Done():
			t.Fatal("timeout waiting for streamed event")
		}
	}
}
