package audiofork

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/grpc"

	"github.com/AmmannChristian/go-audiofork/objectstore"
)

var errHandlerExited = errors.New("audiofork: stream handler exited before the session ended")

// Service implements ConversationAudioServer on top of an object store.
type Service struct {
	store  objectstore.Store
	bucket string
	opts   []Option
	o      options
}

var _ ConversationAudioServer = (*Service)(nil)

// NewService creates the fork service. A nil store or empty bucket is not an
// error here: the service starts and refuses every stream with
// FailedPrecondition so health checks keep working.
func NewService(store objectstore.Store, bucket string, opts ...Option) *Service {
	s := &Service{
		store:  store,
		bucket: strings.TrimSpace(bucket),
		opts:   opts,
		o:      newOptions(opts),
	}
	if err := s.ready(); err != nil {
		s.o.logger.Error("audio will not be saved", slog.Any("cause", err))
	} else {
		s.o.logger.Info("audio fork service ready", slog.String("bucket", s.bucket))
	}
	return s
}

// Ready reports whether streams can be accepted.
func (s *Service) Ready() bool {
	return s.ready() == nil
}

func (s *Service) ready() error {
	switch {
	case s.bucket == "":
		return &ConfigurationError{Missing: "bucket name"}
	case s.store == nil:
		return &ConfigurationError{Missing: "storage client"}
	default:
		return nil
	}
}

// StreamConversationAudio receives chunks until the peer half-closes, acking
// each one. It returns the status of the first failing chunk, if any.
func (s *Service) StreamConversationAudio(stream grpc.BidiStreamingServer[ForkRequest, ForkResponse]) error {
	if err := s.ready(); err != nil {
		s.o.metrics.SessionRefused()
		s.o.logger.WarnContext(stream.Context(), "refusing audio stream", slog.Any("cause", err))
		return err
	}

	session := NewSession(s.o.newID(), s.store, s.bucket, s.opts...)
	ctx := session.Context(stream.Context())
	defer session.OnSessionError(ctx, errHandlerExited)

	return s.serve(ctx, session, stream)
}

func (s *Service) serve(ctx context.Context, session *Session, stream grpc.BidiStreamingServer[ForkRequest, ForkResponse]) error {
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			session.OnSessionComplete(ctx)
			return nil
		}
		if err != nil {
			session.OnSessionError(ctx, err)
			return err
		}

		audio := req.GetAudio()
		ack, err := session.OnChunk(ctx, req.GetConversationID(), audio.GetRoleID(), audio.GetAudioData())
		if err != nil {
			return err
		}

		if err := stream.Send(ack); err != nil {
			session.OnSessionError(ctx, err)
			return err
		}
	}
}
