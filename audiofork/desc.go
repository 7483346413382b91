package audiofork

import (
	"context"

	"google.golang.org/grpc"

	// Optional "cbor" content subtype.
	_ "github.com/AmmannChristian/go-audiofork/internal/codec"
	// Default "proto" subtype for the hand-encoded messages.
	_ "github.com/AmmannChristian/go-audiofork/internal/protocodec"
)

// Service and method names on the wire.
const (
	ServiceName                       = "wcc.ccai.media.v1.ConversationAudio"
	StreamConversationAudioFullMethod = "/" + ServiceName + "/StreamConversationAudio"
)

// ConversationAudioServer is the server API for the fork service.
type ConversationAudioServer interface {
	StreamConversationAudio(grpc.BidiStreamingServer[ForkRequest, ForkResponse]) error
}

// ServiceDesc describes the fork service. Messages travel in protobuf wire
// format by default; clients may select the "cbor" content subtype instead.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationAudioServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamConversationAudio",
			Handler:       streamConversationAudioHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "conversationaudioforking.proto",
}

// RegisterConversationAudioServer registers srv on s.
func RegisterConversationAudioServer(s grpc.ServiceRegistrar, srv ConversationAudioServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func streamConversationAudioHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ConversationAudioServer).StreamConversationAudio(&grpc.GenericServerStream[ForkRequest, ForkResponse]{ServerStream: stream})
}

// ConversationAudioClient is the client API for the fork service.
type ConversationAudioClient interface {
	StreamConversationAudio(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[ForkRequest, ForkResponse], error)
}

type conversationAudioClient struct {
	cc grpc.ClientConnInterface
}

// NewConversationAudioClient returns a client stub bound to cc.
func NewConversationAudioClient(cc grpc.ClientConnInterface) ConversationAudioClient {
	return &conversationAudioClient{cc: cc}
}

func (c *conversationAudioClient) StreamConversationAudio(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[ForkRequest, ForkResponse], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamConversationAudioFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ForkRequest, ForkResponse]{ClientStream: stream}, nil
}
