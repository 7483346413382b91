package audiofork

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrSessionNotOpen is returned for chunks delivered after the session
	// left the Open state.
	ErrSessionNotOpen = status.Error(codes.FailedPrecondition, "session is no longer accepting chunks")

	errMissingIDs = errors.New("conversation id and role id are required to create a storage object")
)

// ValidationError reports a chunk that cannot be attributed to an object.
type ValidationError struct {
	ConversationID string
	RoleID         string
	Reason         string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("audiofork: invalid chunk (conversation %q, role %q): %s", e.ConversationID, e.RoleID, e.Reason)
}

// GRPCStatus maps the error to InvalidArgument.
func (e *ValidationError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Reason)
}

// StorageIOError reports a failure opening or writing a role channel.
type StorageIOError struct {
	ConversationID string
	RoleID         string
	Object         string
	Err            error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("audiofork: storage failure for %s (role %q): %v", e.Object, e.RoleID, e.Err)
}

func (e *StorageIOError) Unwrap() error { return e.Err }

// GRPCStatus maps the error to Internal with the cause in the description.
func (e *StorageIOError) GRPCStatus() *status.Status {
	return status.New(codes.Internal, "failed to write audio stream to storage: "+e.Err.Error())
}

// ConfigurationError reports a service that cannot accept streams.
type ConfigurationError struct {
	Missing string
}

func (e *ConfigurationError) Error() string {
	return "audiofork: missing configuration: " + e.Missing
}

// GRPCStatus maps the error to FailedPrecondition.
func (e *ConfigurationError) GRPCStatus() *status.Status {
	return status.New(codes.FailedPrecondition, "server is not configured to save audio streams")
}
