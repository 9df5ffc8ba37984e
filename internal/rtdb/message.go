package rtdb

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame is the unit exchanged over the websocket, encoded with msgpack in a
// binary message.
type Frame struct {
	ID     uint64                        `msgpack:"id,omitempty"`
	Op     string                        `msgpack:"op"`
	Path   string                        `msgpack:"path,omitempty"`
	Value  msgpack.RawMessage            `msgpack:"value,omitempty"`
	Fields map[string]msgpack.RawMessage `msgpack:"fields,omitempty"`
	Sub    uint64                        `msgpack:"sub,omitempty"`
	Code   string                        `msgpack:"code,omitempty"`
	Error  string                        `msgpack:"error,omitempty"`
}

// Frame operations. The first group is sent by clients, the second by the server.
const (
	OpGet                = "get"
	OpSet                = "set"
	OpUpdate             = "update"
	OpUpdateExisting     = "update_existing"
	OpCreate             = "create"
	OpDelete             = "delete"
	OpSubscribe          = "subscribe"
	OpUnsubscribe        = "unsubscribe"
	OpOnDisconnect       = "on_disconnect"
	OpCancelOnDisconnect = "cancel_on_disconnect"

	OpAck   = "ack"
	OpEvent = "event"
)

var (
	errUnknownOp       = errors.New("unknown operation")
	errBadSubscription = errors.New("bad subscription id")
)

const (
	codeExists      = "exists"
	codeNotFound    = "not_found"
	codeInvalidPath = "invalid_path"
	codeBadRequest  = "bad_request"
)

func encodeValue(v any) (msgpack.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return msgpack.Marshal(v)
}

// decodeValue turns a raw frame value back into tree form.
func decodeValue(raw msgpack.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return Normalize(raw)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrExists):
		return codeExists
	case errors.Is(err, ErrNotFound):
		return codeNotFound
	case errors.Is(err, ErrInvalidPath):
		return codeInvalidPath
	default:
		return codeBadRequest
	}
}

func codeError(code, msg string) error {
	switch code {
	case codeExists:
		return ErrExists
	case codeNotFound:
		return ErrNotFound
	case codeInvalidPath:
		return ErrInvalidPath
	default:
		return errors.New(msg)
	}
}
