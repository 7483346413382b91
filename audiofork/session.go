package audiofork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AmmannChristian/go-audiofork/internal/logctx"
	"github.com/AmmannChristian/go-audiofork/internal/metrics"
	"github.com/AmmannChristian/go-audiofork/objectstore"
)

// State is the lifecycle state of a Session.
type State int

// Session states. Open moves to Closing on graceful completion or to Failed
// on any error; both end in Closed.
const (
	StateOpen State = iota
	StateClosing
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ObjectName is the object holding one role's audio for a conversation.
func ObjectName(conversationID, roleID string) string {
	return fmt.Sprintf("audio/%s-%s.raw", conversationID, roleID)
}

// AckMessage is the acknowledgment text sent for every accepted chunk.
func AckMessage(conversationID string) string {
	return "Processed chunk for conversationId: " + conversationID
}

// Stats is a snapshot of a session's counters.
type Stats struct {
	State          State
	ConversationID string
	Chunks         int
	Bytes          int64
	ChannelsOpened int
	ChannelsClosed int
}

// roleChannel is the write handle for one role. It is created on the first
// chunk for the role and closed at most once.
type roleChannel struct {
	roleID string
	object string
	writer objectstore.Writer
	closed bool
}

func (c *roleChannel) close() (bool, error) {
	if c.closed || !c.writer.IsOpen() {
		c.closed = true
		return false, nil
	}
	c.closed = true
	return true, c.writer.Close()
}

// Session multiplexes the chunks of one stream into per-role objects.
//
// Chunks must be delivered sequentially; the role map is not locked. The
// mutex only guards the state and counters so Stats can be read from other
// goroutines.
type Session struct {
	store   objectstore.Store
	bucket  string
	logger  *slog.Logger
	metrics *metrics.Metrics
	logData *logctx.SessionData

	conversationID string
	channels       map[string]*roleChannel

	mu    sync.Mutex
	state State
	stats Stats
}

// NewSession creates an open session writing into bucket. id is used for
// log correlation only.
func NewSession(id string, store objectstore.Store, bucket string, opts ...Option) *Session {
	o := newOptions(opts)
	o.metrics.SessionStarted()
	return &Session{
		store:    store,
		bucket:   bucket,
		logger:   o.logger,
		metrics:  o.metrics,
		logData:  &logctx.SessionData{SessionID: id},
		channels: make(map[string]*roleChannel),
		state:    StateOpen,
	}
}

// Context returns ctx annotated with the session's log attributes.
func (s *Session) Context(ctx context.Context) context.Context {
	return logctx.WithSessionData(ctx, s.logData)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.State = s.state
	st.ConversationID = s.conversationID
	return st
}

// OnChunk handles one inbound chunk and returns its acknowledgment. Any error
// leaves the session Closed with every channel finalized; the returned error
// carries the gRPC status to end the stream with.
func (s *Session) OnChunk(ctx context.Context, conversationID, roleID string, data []byte) (*ForkResponse, error) {
	if s.State() != StateOpen {
		return nil, ErrSessionNotOpen
	}

	s.logger.DebugContext(ctx, "received audio chunk",
		slog.String("conversation_id", conversationID),
		slog.String("role_id", roleID),
		slog.Int("bytes", len(data)),
	)

	if conversationID == "" || roleID == "" {
		return nil, s.fail(ctx, &ValidationError{
			ConversationID: conversationID,
			RoleID:         roleID,
			Reason:         errMissingIDs.Error(),
		})
	}

	if s.conversationID == "" {
		s.mu.Lock()
		s.conversationID = conversationID
		s.mu.Unlock()
		s.logData.ConversationID = conversationID
	} else if conversationID != s.conversationID {
		return nil, s.fail(ctx, &ValidationError{
			ConversationID: conversationID,
			RoleID:         roleID,
			Reason:         fmt.Sprintf("conversation id changed mid-stream from %q", s.conversationID),
		})
	}

	ch, err := s.channel(ctx, roleID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	if len(data) > 0 {
		if _, err := ch.writer.Write(data); err != nil {
			return nil, s.fail(ctx, &StorageIOError{
				ConversationID: s.conversationID,
				RoleID:         roleID,
				Object:         ch.object,
				Err:            err,
			})
		}
		s.logger.DebugContext(ctx, "wrote audio chunk",
			slog.String("role_id", roleID),
			slog.String("object", ch.object),
			slog.Int("bytes", len(data)),
		)
	}

	s.mu.Lock()
	s.stats.Chunks++
	s.stats.Bytes += int64(len(data))
	s.mu.Unlock()
	s.metrics.ChunkWritten(len(data))

	return &ForkResponse{StatusMessage: AckMessage(s.conversationID)}, nil
}

// OnSessionError tears the session down after the inbound side failed. No
// status is produced; the transport is assumed gone.
func (s *Session) OnSessionError(ctx context.Context, cause error) {
	if !s.transition(StateOpen, StateFailed) {
		return
	}

	s.logger.WarnContext(ctx, "client stream ended with an error",
		slog.String("conversation_id", s.conversationID),
		slog.Any("cause", cause),
	)
	s.finalizeAll(ctx)
	s.finish(metrics.OutcomeAborted)
}

// OnSessionComplete finalizes every object after the peer half-closed the
// stream. Finalize errors are logged, not returned.
func (s *Session) OnSessionComplete(ctx context.Context) {
	if !s.transition(StateOpen, StateClosing) {
		return
	}

	s.logger.InfoContext(ctx, "client finished sending audio, finalizing objects",
		slog.String("conversation_id", s.conversationID),
		slog.Int("channels", len(s.channels)),
	)
	s.finalizeAll(ctx)
	s.finish(metrics.OutcomeCompleted)
}

// fail moves the session to Failed, finalizes every channel and returns err
// for the caller to surface.
func (s *Session) fail(ctx context.Context, err error) error {
	if !s.transition(StateOpen, StateFailed) {
		return err
	}

	attrs := []any{
		slog.String("conversation_id", s.conversationID),
		slog.Any("cause", err),
	}
	var sErr *StorageIOError
	if errors.As(err, &sErr) {
		attrs = append(attrs, slog.String("role_id", sErr.RoleID), slog.String("object", sErr.Object))
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		attrs = append(attrs, slog.String("role_id", vErr.RoleID))
	}
	s.logger.ErrorContext(ctx, "failed to process audio stream", attrs...)

	s.finalizeAll(ctx)
	s.finish(metrics.OutcomeFailed)
	return err
}

// channel returns the role's channel, opening its writer on first use.
func (s *Session) channel(ctx context.Context, roleID string) (*roleChannel, error) {
	if ch, ok := s.channels[roleID]; ok {
		return ch, nil
	}

	object := ObjectName(s.conversationID, roleID)
	// The writer outlives cancellation of the stream so objects can still
	// be finalized after the peer goes away.
	w, err := s.store.OpenWriter(context.WithoutCancel(ctx), s.bucket, object, objectstore.ContentTypeOctetStream)
	if err != nil {
		return nil, &StorageIOError{ConversationID: s.conversationID, RoleID: roleID, Object: object, Err: err}
	}

	ch := &roleChannel{roleID: roleID, object: object, writer: w}
	s.channels[roleID] = ch

	s.mu.Lock()
	s.stats.ChannelsOpened++
	s.mu.Unlock()
	s.metrics.ChannelOpened()

	s.logger.InfoContext(ctx, "started writing audio stream",
		slog.String("role_id", roleID),
		slog.String("bucket", s.bucket),
		slog.String("object", object),
	)
	return ch, nil
}

// finalizeAll closes every open channel once and empties the role map. It is
// the only cleanup routine and is safe to call repeatedly.
func (s *Session) finalizeAll(ctx context.Context) {
	for roleID, ch := range s.channels {
		closed, err := ch.close()
		if !closed {
			continue
		}

		s.mu.Lock()
		s.stats.ChannelsClosed++
		s.mu.Unlock()
		s.metrics.ChannelClosed()

		if err != nil {
			s.logger.ErrorContext(ctx, "error closing write channel",
				slog.String("role_id", roleID),
				slog.String("object", ch.object),
				slog.Any("cause", err),
			)
			continue
		}
		s.logger.InfoContext(ctx, "closed write channel",
			slog.String("role_id", roleID),
			slog.String("object", ch.object),
		)
	}
	clear(s.channels)
}

func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Session) finish(outcome string) {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.metrics.SessionEnded(outcome)
}
