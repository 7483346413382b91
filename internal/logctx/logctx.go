// Package logctx attaches request and session attributes carried in a
// context to every slog record written with that context.
package logctx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Handler wraps another slog.Handler and appends "rpc" and "session"
// groups when the context carries them.
type Handler struct {
	slog.Handler
}

// Handle implements slog.Handler.
func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(rpcDataKey{}).(*RPCData); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", rd.Method),
			slog.String("peer", rd.Peer),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("session",
			slog.String("id", sd.SessionID),
			slog.String("conversation_id", sd.ConversationID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type rpcDataKey struct{}

// RPCData describes the inbound call.
type RPCData struct {
	Method string
	Peer   string
}

// WithRPCData returns a context carrying rd.
func WithRPCData(ctx context.Context, rd *RPCData) context.Context {
	return context.WithValue(ctx, rpcDataKey{}, rd)
}

type sessionDataKey struct{}

// SessionData describes the fork session. ConversationID is filled in once
// the first chunk arrives; the pointer is shared so later updates show up in
// records logged with the original context.
type SessionData struct {
	SessionID      string
	ConversationID string
}

// WithSessionData returns a context carrying sd.
func WithSessionData(ctx context.Context, sd *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, sd)
}

// SessionDataFrom returns the session data carried by ctx, if any.
func SessionDataFrom(ctx context.Context) (*SessionData, bool) {
	sd, ok := ctx.Value(sessionDataKey{}).(*SessionData)
	return sd, ok
}

// NewLogger builds the process logger. format is "json" or "text"; level is
// one of debug, info, warn, error.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logctx: invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var base slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		base = slog.NewJSONHandler(w, opts)
	case "text":
		base = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("logctx: unknown log format %q", format)
	}

	return slog.New(Handler{Handler: base}), nil
}
