package grpcserver

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/AmmannChristian/go-audiofork/internal/logctx"
	"github.com/AmmannChristian/go-audiofork/internal/metrics"
	"github.com/AmmannChristian/go-audiofork/internal/validator"
)

// DefaultExemptPrefixes are the method prefixes that bypass authentication:
// the standard and legacy platform health services and both reflection
// service versions.
var DefaultExemptPrefixes = []string{
	"/grpc.health.v1.Health",
	"/com.cisco.wcc.ccai.v1.Health",
	"/grpc.reflection.v1.ServerReflection",
	"/grpc.reflection.v1alpha.ServerReflection",
}

// Rejection descriptions sent to the peer.
const (
	msgMissingHeader = "missing authorization header"
	msgInvalidFormat = "invalid authorization header format"
	msgInvalidToken  = "invalid or missing bearer token"
)

// InterceptorConfig holds configuration for authentication interceptors.
type InterceptorConfig struct {
	verifier         TokenVerifier
	exemptPrefixes   []string
	strictScheme     bool
	logger           *slog.Logger
	metrics          *metrics.Metrics
	unauthorizedCode codes.Code
}

// InterceptorOption is a functional option for configuring interceptors.
type InterceptorOption func(*InterceptorConfig)

// WithExemptPrefixes adds method prefixes that skip authentication, on top
// of DefaultExemptPrefixes. A missing leading "/" is added.
//
// Example:
//
//	WithExemptPrefixes("/example.Diagnostics")
func WithExemptPrefixes(prefixes ...string) InterceptorOption {
	return func(c *InterceptorConfig) {
		for _, p := range prefixes {
			if p = normalizePrefix(p); p != "" {
				c.exemptPrefixes = append(c.exemptPrefixes, p)
			}
		}
	}
}

// WithStrictSchemeCheck requires the authorization header to use the Bearer
// scheme with a non-empty token before the verifier runs. When disabled (the
// default), the raw header goes to the verifier, which tolerates a missing
// scheme.
func WithStrictSchemeCheck(strict bool) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.strictScheme = strict
	}
}

// WithInterceptorLogger sets a logger for the interceptor.
func WithInterceptorLogger(logger *slog.Logger) InterceptorOption {
	return func(c *InterceptorConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics counts every decision by outcome.
func WithMetrics(m *metrics.Metrics) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.metrics = m
	}
}

// WithUnauthorizedCode sets the gRPC status code to return on authentication failures.
// Default is codes.Unauthenticated.
func WithUnauthorizedCode(code codes.Code) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.unauthorizedCode = code
	}
}

// Action is what the gate does with a call.
type Action int

const (
	// ActionForward passes the call to its handler.
	ActionForward Action = iota
	// ActionReject ends the call with a status; the handler never runs.
	ActionReject
)

// Decision is the outcome of evaluating one call. Rejections are shared
// values built once per Gate, one per reason.
type Decision struct {
	Action Action
	// Status is set when Action is ActionReject.
	Status *status.Status
	// Claims is set for calls forwarded after verification.
	Claims *TokenClaims
	// Exempt marks calls forwarded without verification.
	Exempt bool
}

// Err returns the rejection as an error, or nil for a forward.
func (d Decision) Err() error {
	if d.Action != ActionReject {
		return nil
	}
	return d.Status.Err()
}

var forwardExempt = Decision{Action: ActionForward, Exempt: true}

// Gate decides whether a call may reach its handler.
type Gate struct {
	config InterceptorConfig

	rejectMissingHeader Decision
	rejectInvalidFormat Decision
	rejectInvalidToken  Decision
}

// NewGate creates a gate backed by verifier.
func NewGate(verifier TokenVerifier, opts ...InterceptorOption) *Gate {
	config := InterceptorConfig{
		verifier:         verifier,
		exemptPrefixes:   append([]string(nil), DefaultExemptPrefixes...),
		logger:           slog.New(slog.DiscardHandler),
		unauthorizedCode: codes.Unauthenticated,
	}
	for _, opt := range opts {
		opt(&config)
	}

	reject := func(msg string) Decision {
		return Decision{Action: ActionReject, Status: status.New(config.unauthorizedCode, msg)}
	}
	return &Gate{
		config:              config,
		rejectMissingHeader: reject(msgMissingHeader),
		rejectInvalidFormat: reject(msgInvalidFormat),
		rejectInvalidToken:  reject(msgInvalidToken),
	}
}

// IsExempt reports whether fullMethod bypasses authentication.
func (g *Gate) IsExempt(fullMethod string) bool {
	method := normalizePrefix(fullMethod)
	for _, p := range g.config.exemptPrefixes {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

// Evaluate decides the fate of a call to fullMethod whose incoming metadata
// is carried by ctx.
func (g *Gate) Evaluate(ctx context.Context, fullMethod string) Decision {
	d := g.evaluate(ctx, fullMethod)

	switch {
	case d.Exempt:
		g.config.metrics.AuthDecision(metrics.DecisionExempt)
		g.config.logger.DebugContext(ctx, "method is exempt from authentication")
	case d.Action == ActionReject:
		g.config.metrics.AuthDecision(metrics.DecisionDenied)
		g.config.logger.WarnContext(ctx, "authentication failed",
			slog.String("reason", d.Status.Message()),
		)
	default:
		g.config.metrics.AuthDecision(metrics.DecisionAllowed)
		g.config.logger.DebugContext(ctx, "authenticated call",
			slog.String("issuer", d.Claims.Issuer),
			slog.String("kid", d.Claims.KeyID),
			slog.String("subject", d.Claims.Subject),
		)
	}
	return d
}

func (g *Gate) evaluate(ctx context.Context, fullMethod string) Decision {
	if g.IsExempt(fullMethod) {
		return forwardExempt
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return g.rejectMissingHeader
	}
	headers := md.Get("authorization")
	if len(headers) == 0 || headers[0] == "" {
		return g.rejectMissingHeader
	}
	header := headers[0]

	if g.config.strictScheme {
		token, found := strings.CutPrefix(header, validator.BearerPrefix)
		if !found || strings.TrimSpace(token) == "" {
			return g.rejectInvalidFormat
		}
	}

	claims, err := g.config.verifier.VerifyClaims(ctx, header)
	if err != nil || claims == nil {
		return g.rejectInvalidToken
	}
	return Decision{Action: ActionForward, Claims: claims}
}

// UnaryServerInterceptor returns the gate as a unary interceptor.
func (g *Gate) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = withRPCData(ctx, info.FullMethod)

		d := g.Evaluate(ctx, info.FullMethod)
		if err := d.Err(); err != nil {
			return nil, err
		}
		if d.Claims != nil {
			ctx = WithTokenClaims(ctx, d.Claims)
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns the gate as a stream interceptor.
func (g *Gate) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := withRPCData(ss.Context(), info.FullMethod)

		d := g.Evaluate(ctx, info.FullMethod)
		if err := d.Err(); err != nil {
			return err
		}
		if d.Exempt {
			return handler(srv, ss)
		}

		// Wrap the stream with a context that includes the claims
		return handler(srv, &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithTokenClaims(ctx, d.Claims),
		})
	}
}

// UnaryServerInterceptor returns a gRPC unary server interceptor that verifies
// the bearer token in the "authorization" metadata of every call whose method
// is not exempt.
//
// Usage:
//
//	verifier, _ := grpcserver.NewVerifierBuilder().Build()
//	server := grpc.NewServer(
//	    grpc.UnaryInterceptor(grpcserver.UnaryServerInterceptor(verifier)),
//	)
func UnaryServerInterceptor(verifier TokenVerifier, opts ...InterceptorOption) grpc.UnaryServerInterceptor {
	return NewGate(verifier, opts...).UnaryServerInterceptor()
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// verifies the bearer token before the stream handler runs. Verified claims
// are available from the stream context via TokenClaimsFromContext.
//
// Usage:
//
//	verifier, _ := grpcserver.NewVerifierBuilder().Build()
//	server := grpc.NewServer(
//	    grpc.StreamInterceptor(grpcserver.StreamServerInterceptor(verifier,
//	        grpcserver.WithStrictSchemeCheck(true),
//	    )),
//	)
func StreamServerInterceptor(verifier TokenVerifier, opts ...InterceptorOption) grpc.StreamServerInterceptor {
	return NewGate(verifier, opts...).StreamServerInterceptor()
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

func withRPCData(ctx context.Context, fullMethod string) context.Context {
	rd := &logctx.RPCData{Method: fullMethod}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		rd.Peer = p.Addr.String()
	}
	return logctx.WithRPCData(ctx, rd)
}

// wrappedServerStream wraps a grpc.ServerStream to override the context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context with token claims.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
