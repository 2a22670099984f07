package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client for the control service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req any, reply any) error {
	var in proto.Message = &emptypb.Empty{}
	if req != nil {
		s, err := encode(req)
		if err != nil {
			return err
		}
		in = s
	}
	if reply == nil {
		return c.conn.Invoke(ctx, fullMethod(method), in, &emptypb.Empty{})
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return err
	}
	if err := decode(out, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (StatusReply, error) {
	var out StatusReply
	err := c.call(ctx, MethodGetStatus, nil, &out)
	return out, err
}

// Conversations lists the known conversations.
func (c *Client) Conversations(ctx context.Context) (ConversationsReply, error) {
	var out ConversationsReply
	err := c.call(ctx, MethodListConversations, nil, &out)
	return out, err
}

// Messages returns a conversation's loaded thread. page > 1 loads an older
// page first; an empty conversationID means the open conversation.
func (c *Client) Messages(ctx context.Context, conversationID string, page int) (MessagesReply, error) {
	var out MessagesReply
	err := c.call(ctx, MethodListMessages, idRequest{ConversationID: conversationID, Page: page}, &out)
	return out, err
}

// Send sends a message.
func (c *Client) Send(ctx context.Context, req SendRequest) (SendReply, error) {
	var out SendReply
	err := c.call(ctx, MethodSendMessage, req, &out)
	return out, err
}

// Open opens a conversation.
func (c *Client) Open(ctx context.Context, conversationID string) (OpenReply, error) {
	var out OpenReply
	err := c.call(ctx, MethodOpenConversation, idRequest{ConversationID: conversationID}, &out)
	return out, err
}

// CloseConversation closes a conversation; empty means the open one.
func (c *Client) CloseConversation(ctx context.Context, conversationID string) error {
	return c.call(ctx, MethodCloseConversation, idRequest{ConversationID: conversationID}, nil)
}

// StartConversation returns or creates the conversation with a user.
func (c *Client) StartConversation(ctx context.Context, userID string) (ConversationReply, error) {
	var out ConversationReply
	err := c.call(ctx, MethodStartConversation, idRequest{UserID: userID}, &out)
	return out, err
}

// MarkRead marks a conversation read and returns the server's count.
func (c *Client) MarkRead(ctx context.Context, conversationID string) (int, error) {
	var out CountReply
	err := c.call(ctx, MethodMarkConversationRead, idRequest{ConversationID: conversationID}, &out)
	return out.Count, err
}

// Recall recalls one of the user's messages.
func (c *Client) Recall(ctx context.Context, messageID string) error {
	return c.call(ctx, MethodRecallMessage, idRequest{MessageID: messageID}, nil)
}

// Delete hides a message for the user.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	return c.call(ctx, MethodDeleteMessage, idRequest{MessageID: messageID}, nil)
}

// Pending lists messages awaiting acceptance.
func (c *Client) Pending(ctx context.Context) (PendingReply, error) {
	var out PendingReply
	err := c.call(ctx, MethodListPending, nil, &out)
	return out, err
}

// Accept accepts a pending message.
func (c *Client) Accept(ctx context.Context, messageID string) (MessageReply, error) {
	var out MessageReply
	err := c.call(ctx, MethodAcceptPending, idRequest{MessageID: messageID}, &out)
	return out, err
}

// Reject rejects a pending message.
func (c *Client) Reject(ctx context.Context, messageID string) error {
	return c.call(ctx, MethodRejectPending, idRequest{MessageID: messageID}, nil)
}

// Journal lists recorded transitions.
func (c *Client) Journal(ctx context.Context, req JournalRequest) (JournalReply, error) {
	var out JournalReply
	err := c.call(ctx, MethodListJournal, req, &out)
	return out, err
}

// Settings returns a conversation's settings.
func (c *Client) Settings(ctx context.Context, conversationID string) (SettingsReply, error) {
	var out SettingsReply
	err := c.call(ctx, MethodGetSettings, idRequest{ConversationID: conversationID}, &out)
	return out, err
}

// UpdateSettings changes a conversation's settings.
func (c *Client) UpdateSettings(ctx context.Context, req SettingsUpdate) (SettingsReply, error) {
	var out SettingsReply
	err := c.call(ctx, MethodUpdateSettings, req, &out)
	return out, err
}

// SearchUsers searches users by name.
func (c *Client) SearchUsers(ctx context.Context, query string, limit int) (UsersReply, error) {
	var out UsersReply
	err := c.call(ctx, MethodSearchUsers, searchRequest{Query: query, Limit: limit}, &out)
	return out, err
}

// Watch streams daemon events whose kind starts with prefix to fn until ctx
// ends or fn returns an error.
func (c *Client) Watch(ctx context.Context, prefix string, fn func(Event) error) error {
	desc := &grpc.StreamDesc{StreamName: MethodWatchEvents, ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, fullMethod(MethodWatchEvents))
	if err != nil {
		return fmt.Errorf("watch events: %w", err)
	}
	req, err := encode(watchRequest{Prefix: prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return fmt.Errorf("watch events: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("watch events: %w", err)
	}
	for {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var evt Event
		if err := decode(in, &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
