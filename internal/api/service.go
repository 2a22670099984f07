package api

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/settings"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const watchBuffer = 256

// JournalReader lists recorded transitions.
type JournalReader interface {
	ListTransitions(afterSeq int64, conversationID string, limit int) ([]store.Transition, error)
}

// Directory is the part of the REST API the control service calls directly.
type Directory interface {
	SearchUsers(ctx context.Context, query string, limit int) ([]chat.UserSummary, error)
	Upload(ctx context.Context, name string, r io.Reader) (chat.Attachment, error)
}

// Service implements the control service on top of the sync engine.
type Service struct {
	profile   string
	startedAt time.Time
	machine   *status.Machine
	engine    *intsync.Engine
	journal   JournalReader
	settings  *settings.Provider
	remote    Directory
	bus       *bus.Bus
	logger    *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewService creates the control service. journal, settings and remote may be
// nil; the matching methods then report Unavailable.
func NewService(profile string, machine *status.Machine, engine *intsync.Engine, journal JournalReader, sp *settings.Provider, remote Directory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profile:   profile,
		startedAt: time.Now(),
		machine:   machine,
		engine:    engine,
		journal:   journal,
		settings:  sp,
		remote:    remote,
		bus:       engine.Bus,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Close ends every open event stream.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Service) control() {}

func (s *Service) getStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap := s.engine.Store.Snapshot()
	current := s.machine.Current()
	return encode(StatusReply{
		Profile:               s.profile,
		UserID:                snap.SelfID,
		Status:                current.Public(),
		State:                 string(current),
		UptimeMs:              time.Since(s.startedAt).Milliseconds(),
		CurrentConversationID: snap.CurrentConversationID,
		Conversations:         len(snap.Conversations),
		Messages:              snap.MessageCount(),
		TempMessages:          snap.TempCount(),
		UnreadTotal:           snap.UnreadTotal,
		Pending:               len(snap.Pending),
		Inflight:              s.engine.Outbox.Inflight(),
	})
}

func (s *Service) listConversations(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return encode(ConversationsReply{Conversations: s.engine.Store.Conversations()})
}

func (s *Service) listMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	snap := s.engine.Store.Snapshot()
	if req.ConversationID == "" {
		req.ConversationID = snap.CurrentConversationID
	}
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required when no conversation is open")
	}
	reply := MessagesReply{ConversationID: req.ConversationID}
	if req.Page > 1 {
		n, err := s.engine.LoadOlder(ctx, req.ConversationID, req.Page)
		if err != nil {
			return nil, toStatus("list messages", err)
		}
		reply.Loaded = n
		snap = s.engine.Store.Snapshot()
	}
	reply.Messages = snap.Thread(req.ConversationID)
	return encode(reply)
}

func (s *Service) sendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.ReceiverID == "" && req.ConversationID != "" {
		c, ok := s.engine.Store.Snapshot().Conversation(req.ConversationID)
		if !ok {
			return nil, grpcstatus.Errorf(codes.NotFound, "conversation %s not found", req.ConversationID)
		}
		for _, p := range c.ParticipantIDs {
			if p != s.engine.Store.SelfID() {
				req.ReceiverID = p
				break
			}
		}
	}

	for _, path := range req.Files {
		att, err := s.upload(ctx, path)
		if err != nil {
			return nil, err
		}
		req.Attachments = append(req.Attachments, att)
	}

	msg, err := s.engine.Outbox.Send(ctx, req.ReceiverID, req.Content, req.MessageType, req.Attachments)
	if err != nil {
		return nil, toStatus("send message", err)
	}
	if !req.Wait {
		return encode(SendReply{Message: msg})
	}
	confirmed, err := s.engine.Outbox.Wait(ctx, msg.ID)
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return encode(SendReply{Message: confirmed, Confirmed: true})
}

// upload sends a file on the daemon's filesystem and returns its attachment.
func (s *Service) upload(ctx context.Context, path string) (chat.Attachment, error) {
	if s.remote == nil {
		return chat.Attachment{}, grpcstatus.Error(codes.Unavailable, "uploads not configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return chat.Attachment{}, grpcstatus.Errorf(codes.InvalidArgument, "attachment: %v", err)
	}
	defer func() { _ = f.Close() }()
	att, err := s.remote.Upload(ctx, filepath.Base(path), f)
	if err != nil {
		return chat.Attachment{}, toStatus("upload "+filepath.Base(path), err)
	}
	return att, nil
}

func (s *Service) openConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := s.engine.OpenConversation(ctx, req.ConversationID); err != nil {
		return nil, toStatus("open conversation", err)
	}
	snap := s.engine.Store.Snapshot()
	c, _ := snap.Conversation(req.ConversationID)
	return encode(OpenReply{Conversation: c, Messages: snap.Thread(req.ConversationID)})
}

func (s *Service) closeConversation(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req idRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	s.engine.CloseConversation(ctx, req.ConversationID)
	return &emptypb.Empty{}, nil
}

func (s *Service) startConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "userId is required")
	}
	c, err := s.engine.StartConversation(ctx, req.UserID)
	if err != nil {
		return nil, toStatus("start conversation", err)
	}
	return encode(ConversationReply{Conversation: c})
}

func (s *Service) markConversationRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	n, err := s.engine.Unread.MarkConversationAsRead(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus("mark conversation read", err)
	}
	return encode(CountReply{Count: n})
}

func (s *Service) recallMessage(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req idRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := s.engine.RecallMessage(ctx, req.MessageID); err != nil {
		return nil, toStatus("recall message", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) deleteMessage(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req idRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := s.engine.DeleteForMe(ctx, req.MessageID); err != nil {
		return nil, toStatus("delete message", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) listPending(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return encode(PendingReply{Pending: s.engine.Pending.List()})
}

func (s *Service) acceptPending(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	msg, err := s.engine.Pending.Accept(ctx, req.MessageID)
	if err != nil {
		return nil, toStatus("accept pending", err)
	}
	return encode(MessageReply{Message: &msg})
}

func (s *Service) rejectPending(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req idRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := s.engine.Pending.Reject(ctx, req.MessageID); err != nil {
		return nil, toStatus("reject pending", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) listJournal(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.journal == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "journal not configured")
	}
	var req JournalRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	ts, err := s.journal.ListTransitions(req.AfterSeq, req.ConversationID, req.Limit)
	if err != nil {
		return nil, toStatus("list journal", err)
	}
	reply := JournalReply{Entries: make([]JournalEntry, 0, len(ts))}
	for _, t := range ts {
		e := JournalEntry{Seq: t.Seq, Kind: t.Kind, ConversationID: t.ConversationID, CreatedAt: t.CreatedAt}
		if len(t.Payload) > 0 {
			e.Payload = json.RawMessage(t.Payload)
		}
		reply.Entries = append(reply.Entries, e)
	}
	return encode(reply)
}

func (s *Service) getSettings(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.settings == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "settings not configured")
	}
	var req idRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	cs, err := s.settings.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus("get settings", err)
	}
	return encode(SettingsReply{Settings: cs})
}

func (s *Service) updateSettings(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.settings == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "settings not configured")
	}
	var req SettingsUpdate
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	cs, err := s.settings.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus("update settings", err)
	}
	if req.RequireAcceptance != nil {
		cs.RequireAcceptance = *req.RequireAcceptance
	}
	if req.Muted != nil {
		cs.Muted = *req.Muted
	}
	cs, err = s.settings.Update(ctx, cs)
	if err != nil {
		return nil, toStatus("update settings", err)
	}
	return encode(SettingsReply{Settings: cs})
}

func (s *Service) searchUsers(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.remote == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "user search not configured")
	}
	var req searchRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	users, err := s.remote.SearchUsers(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, toStatus("search users", err)
	}
	return encode(UsersReply{Users: users})
}

// watchEvents streams bus events whose kind starts with the requested prefix
// until the client goes away. Events a slow client cannot keep up with are
// dropped by the bus.
func (s *Service) watchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	if s.bus == nil {
		return grpcstatus.Error(codes.Unavailable, "event bus not configured")
	}
	var req watchRequest
	if err := decodeRequest(in, &req); err != nil {
		return err
	}
	ch, unsub := s.bus.Subscribe(req.Prefix, watchBuffer)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case evt := <-ch:
			out, err := encode(s.envelope(evt))
			if err != nil {
				return err
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		case <-s.done:
			return grpcstatus.Error(codes.Unavailable, "daemon shutting down")
		}
	}
}

func (s *Service) envelope(evt bus.Event) Event {
	out := Event{
		ID:         uuid.New().String(),
		Profile:    s.profile,
		Kind:       evt.Kind,
		OccurredAt: evt.Timestamp,
	}
	if evt.Payload != nil {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			s.logger.Debug("event payload not encodable", zap.String("kind", evt.Kind), zap.Error(err))
		} else {
			out.Payload = data
		}
	}
	return out
}
