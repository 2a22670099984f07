package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/pending"
	"github.com/matheus3301/chatsync/internal/rest"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/unread"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps a domain error to a gRPC status error.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	return grpcstatus.Errorf(codeFor(err), "%s: %v", op, err)
}

func codeFor(err error) codes.Code {
	var (
		apiErr  *rest.APIError
		sendErr *outbox.SendError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, outbox.ErrEmptyMessage),
		errors.Is(err, outbox.ErrContentTooLong),
		errors.Is(err, outbox.ErrInvalidMessage):
		return codes.InvalidArgument
	case errors.Is(err, pending.ErrNotFound),
		errors.Is(err, intsync.ErrUnknownConversation),
		errors.Is(err, intsync.ErrUnknownMessage),
		errors.Is(err, unread.ErrUnknownMessage),
		errors.Is(err, outbox.ErrUnknownTempID):
		return codes.NotFound
	case errors.Is(err, pending.ErrAlreadyDecided),
		errors.Is(err, chat.ErrRecallWindowExpired):
		return codes.FailedPrecondition
	case errors.Is(err, chat.ErrNotAuthor):
		return codes.PermissionDenied
	case errors.Is(err, conn.ErrNotConnected):
		return codes.Unavailable
	case errors.As(err, &sendErr):
		return codes.Aborted
	case errors.As(err, &apiErr):
		return httpCode(apiErr.StatusCode)
	}
	return codes.Internal
}

func httpCode(status int) codes.Code {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return codes.Unavailable
	}
	return codes.Unknown
}
