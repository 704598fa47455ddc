package command

import (
	"errors"

	"github.com/nerrad567/graysql/internal/infrastructure/database"
)

var (
	// ErrUnknownCommand is returned for a command name the Dispatcher does not serve.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidRequest is returned when a payload cannot be decoded or is
	// missing a required field.
	ErrInvalidRequest = errors.New("invalid request")
)

// Wire kinds for command-level failures.
const (
	KindUnknownCommand = "UnknownCommand"
	KindInvalidRequest = "InvalidRequest"
)

// ErrorBody is the serialized form of a failed request.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewErrorBody classifies err for the wire.
func NewErrorBody(err error) *ErrorBody {
	return &ErrorBody{Kind: errorKind(err), Message: err.Error()}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return KindUnknownCommand
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	default:
		return database.ErrorKind(err)
	}
}
