package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/AmmannChristian/go-audiofork/audiofork"
	"github.com/AmmannChristian/go-audiofork/internal/codec"
)

// 100 ms of 16 kHz 16-bit mono PCM.
const defaultChunkSize = 3200

type roleSource struct {
	role string
	r    io.Reader
}

func newStreamCmd(conn *connectionFlags) *cobra.Command {
	var (
		conversationID string
		roles          []string
		chunkSize      int
		interval       time.Duration
		compress       bool
		useCBOR        bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream one audio file per role",
		Example: `  audiofork-client stream --plaintext --token $TOKEN \
    --conversation c1 --role agent=agent.raw --role customer=customer.raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if chunkSize <= 0 {
				return fmt.Errorf("--chunk-size must be positive")
			}
			specs, err := parseRoles(roles)
			if err != nil {
				return err
			}

			sources := make([]roleSource, 0, len(specs))
			for _, spec := range specs {
				f, err := os.Open(spec.path)
				if err != nil {
					return fmt.Errorf("open %s audio: %w", spec.role, err)
				}
				defer f.Close()
				sources = append(sources, roleSource{role: spec.role, r: f})
			}

			cc, err := conn.dial(compress)
			if err != nil {
				return err
			}
			defer cc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), conn.timeout)
			defer cancel()

			if conversationID == "" {
				conversationID = uuid.NewString()
			}
			var callOpts []grpc.CallOption
			if useCBOR {
				callOpts = append(callOpts, grpc.CallContentSubtype(codec.Name))
			}
			n, err := streamAudio(ctx, audiofork.NewConversationAudioClient(cc), conversationID, sources, chunkSize, interval, cmd.OutOrStdout(), callOpts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "conversation %s: %d chunks acknowledged\n", conversationID, n)
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation ID (random when empty)")
	cmd.Flags().StringArrayVar(&roles, "role", nil, "role=path of an audio file, repeatable")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", defaultChunkSize, "Bytes per chunk")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Pause between chunks, e.g. 100ms for real time")
	cmd.Flags().BoolVar(&compress, "compress", false, "Compress messages with zstd")
	cmd.Flags().BoolVar(&useCBOR, "cbor", false, "Encode messages as CBOR instead of protobuf")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

type roleSpec struct {
	role string
	path string
}

func parseRoles(values []string) ([]roleSpec, error) {
	if len(values) == 0 {
		return nil, errors.New("at least one --role is required")
	}

	seen := make(map[string]bool, len(values))
	specs := make([]roleSpec, 0, len(values))
	for _, v := range values {
		role, path, ok := strings.Cut(v, "=")
		role, path = strings.TrimSpace(role), strings.TrimSpace(path)
		if !ok || role == "" || path == "" {
			return nil, fmt.Errorf("invalid --role %q, want role=path", v)
		}
		if seen[role] {
			return nil, fmt.Errorf("role %q given more than once", role)
		}
		seen[role] = true
		specs = append(specs, roleSpec{role: role, path: path})
	}
	return specs, nil
}

// streamAudio sends the sources round-robin, one chunk per role per turn,
// waiting for each acknowledgement before the next send. It returns the
// number of acknowledged chunks.
func streamAudio(
	ctx context.Context,
	client audiofork.ConversationAudioClient,
	conversationID string,
	sources []roleSource,
	chunkSize int,
	interval time.Duration,
	out io.Writer,
	callOpts ...grpc.CallOption,
) (int, error) {
	stream, err := client.StreamConversationAudio(ctx, callOpts...)
	if err != nil {
		return 0, fmt.Errorf("open stream: %w", err)
	}

	buf := make([]byte, chunkSize)
	active := append([]roleSource(nil), sources...)
	acked := 0

	for len(active) > 0 {
		next := active[:0]
		for _, src := range active {
			n, rerr := io.ReadFull(src.r, buf)
			if n > 0 {
				req := &audiofork.ForkRequest{
					ConversationID: conversationID,
					Audio:          &audiofork.Audio{RoleID: src.role, AudioData: append([]byte(nil), buf[:n]...)},
				}
				if err := stream.Send(req); err != nil {
					return acked, recvStatus(stream, err)
				}
				ack, err := stream.Recv()
				if err != nil {
					return acked, fmt.Errorf("chunk for %s: %w", src.role, err)
				}
				acked++
				fmt.Fprintf(out, "%s: %s\n", src.role, ack.StatusMessage)

				if interval > 0 {
					select {
					case <-ctx.Done():
						return acked, ctx.Err()
					case <-time.After(interval):
					}
				}
			}

			switch {
			case rerr == nil:
				next = append(next, src)
			case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			default:
				return acked, fmt.Errorf("read %s audio: %w", src.role, rerr)
			}
		}
		active = next
	}

	if err := stream.CloseSend(); err != nil {
		return acked, fmt.Errorf("close stream: %w", err)
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		return acked, fmt.Errorf("finish stream: %w", err)
	}
	return acked, nil
}

// recvStatus surfaces the server's status after a failed send.
func recvStatus(stream grpc.BidiStreamingClient[audiofork.ForkRequest, audiofork.ForkResponse], sendErr error) error {
	if !errors.Is(sendErr, io.EOF) {
		return fmt.Errorf("send: %w", sendErr)
	}
	_, err := stream.Recv()
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("send: %w", sendErr)
	}
	return fmt.Errorf("stream ended: %w", err)
}
