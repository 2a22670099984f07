// Package api exposes the daemon's chat state and operations over a local
// gRPC service. Requests and replies are google.protobuf.Struct documents
// carrying the same JSON shapes the chat types marshal to.
package api

import (
	"context"

	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.Control"

// Method names.
const (
	MethodGetStatus            = "GetStatus"
	MethodListConversations    = "ListConversations"
	MethodListMessages         = "ListMessages"
	MethodSendMessage          = "SendMessage"
	MethodOpenConversation     = "OpenConversation"
	MethodCloseConversation    = "CloseConversation"
	MethodStartConversation    = "StartConversation"
	MethodMarkConversationRead = "MarkConversationRead"
	MethodRecallMessage        = "RecallMessage"
	MethodDeleteMessage        = "DeleteMessage"
	MethodListPending          = "ListPending"
	MethodAcceptPending        = "AcceptPending"
	MethodRejectPending        = "RejectPending"
	MethodListJournal          = "ListJournal"
	MethodGetSettings          = "GetSettings"
	MethodUpdateSettings       = "UpdateSettings"
	MethodSearchUsers          = "SearchUsers"
	MethodWatchEvents          = "WatchEvents"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// controlServer is the handler type checked by grpc.Server.RegisterService.
type controlServer interface {
	control()
}

// Register attaches the control service to a gRPC server.
func Register(s grpc.ServiceRegistrar, svc *Service) {
	s.RegisterService(&serviceDesc, svc)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*controlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetStatus, newEmpty, (*Service).getStatus),
		unary(MethodListConversations, newEmpty, (*Service).listConversations),
		unary(MethodListMessages, newStruct, (*Service).listMessages),
		unary(MethodSendMessage, newStruct, (*Service).sendMessage),
		unary(MethodOpenConversation, newStruct, (*Service).openConversation),
		unary(MethodCloseConversation, newStruct, (*Service).closeConversation),
		unary(MethodStartConversation, newStruct, (*Service).startConversation),
		unary(MethodMarkConversationRead, newStruct, (*Service).markConversationRead),
		unary(MethodRecallMessage, newStruct, (*Service).recallMessage),
		unary(MethodDeleteMessage, newStruct, (*Service).deleteMessage),
		unary(MethodListPending, newEmpty, (*Service).listPending),
		unary(MethodAcceptPending, newStruct, (*Service).acceptPending),
		unary(MethodRejectPending, newStruct, (*Service).rejectPending),
		unary(MethodListJournal, newStruct, (*Service).listJournal),
		unary(MethodGetSettings, newStruct, (*Service).getSettings),
		unary(MethodUpdateSettings, newStruct, (*Service).updateSettings),
		unary(MethodSearchUsers, newStruct, (*Service).searchUsers),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chatsync/v1/control.proto",
}

func newEmpty() *emptypb.Empty   { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

// unary adapts a typed service method to a grpc.MethodDesc.
func unary[Req, Resp proto.Message](name string, newReq func() Req, fn func(*Service, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Service)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(Req))
			})
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Service).watchEvents(in, stream)
}

// encode converts v to a Struct through its JSON form. v must marshal to a
// JSON object.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode reply: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return out, nil
}

// decode fills v from a Struct through its JSON form.
func decode(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func decodeRequest(in *structpb.Struct, v any) error {
	if err := decode(in, v); err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}
