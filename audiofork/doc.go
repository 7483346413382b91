// Package audiofork implements the conversation audio-fork service.
//
// A peer opens one bidirectional stream per conversation and sends chunks
// tagged with a role id. Each role's audio is appended to its own object,
// audio/{conversationId}-{roleId}.raw, and every accepted chunk is
// acknowledged on the stream.
//
// Failure handling is fail-fast: a validation or storage error on any chunk
// closes every role channel of the session and ends the stream with a status
// (InvalidArgument or Internal). Objects are finalized on graceful
// completion, on error, and when the peer cancels.
//
// Example:
//
//	srv := grpc.NewServer(grpc.ChainStreamInterceptor(
//		grpcserver.StreamServerInterceptor(verifier),
//	))
//	audiofork.RegisterConversationAudioServer(srv, audiofork.NewService(store, bucket,
//		audiofork.WithLogger(logger),
//	))
package audiofork
