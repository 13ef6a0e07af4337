package comm

import (
	"encoding/json"
	"errors"

	"github.com/avvvet/wheel-services/internal/store"
)

// Client to server message types. The server answers each with
// Type+"-response" carrying the same ID.
const (
	TypeCreate      = "create"
	TypeGet         = "get"
	TypePatch       = "patch"
	TypeRemove      = "remove"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeBind        = "bind"
)

// TypeRoomUpdate is pushed to sockets subscribed to a room. Data is the room,
// or null once it was deleted.
const TypeRoomUpdate = "room-update"

const responseSuffix = "-response"

// Error values carried in Message.Error.
const (
	ErrCodeNotFound   = "not_found"
	ErrCodeExists     = "exists"
	ErrCodeConflict   = "conflict"
	ErrCodeBadRequest = "bad_request"
	ErrCodeInternal   = "internal"
)

type WSMessage struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"` // request correlation id
	Code       string          `json:"code,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	IfRevision *int64          `json:"ifRevision,omitempty"` // patch only
	Error      string          `json:"error,omitempty"`
}

type BindData struct {
	PlayerID string `json:"playerId"`
}

func ResponseType(requestType string) string {
	return requestType + responseSuffix
}

// Reply builds the response to req.
func Reply(req *WSMessage, data any, err error) *WSMessage {
	rsp := &WSMessage{
		Type: ResponseType(req.Type),
		ID:   req.ID,
		Code: req.Code,
	}
	if err != nil {
		rsp.Error = ErrorCode(err)
		return rsp
	}
	if data != nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			rsp.Error = ErrCodeInternal
			return rsp
		}
		rsp.Data = raw
	}
	return rsp
}

func ErrorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, store.ErrExists):
		return ErrCodeExists
	case errors.Is(err, store.ErrConflict):
		return ErrCodeConflict
	case errors.Is(err, ErrBadRequest):
		return ErrCodeBadRequest
	}
	return ErrCodeInternal
}

var (
	ErrBadRequest = errors.New("bad request")
	ErrInternal   = errors.New("relay server error")
)

// Err maps a response error code back to the error it stands for.
func Err(code string) error {
	switch code {
	case "":
		return nil
	case ErrCodeNotFound:
		return store.ErrNotFound
	case ErrCodeExists:
		return store.ErrExists
	case ErrCodeConflict:
		return store.ErrConflict
	case ErrCodeBadRequest:
		return ErrBadRequest
	}
	return ErrInternal
}
