package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ca "github.com/panyam/creatorauth"
)

// TokenVerifier checks a session token and returns the account id it was
// issued for. *ca.SessionIssuer implements it.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	*Config

	Verifier TokenVerifier

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of full method names ("/package.Service/Method")
	// that don't require auth.
	PublicMethods map[string]bool
}

// NewInterceptorConfig requires a valid session on every method except publicMethods.
func NewInterceptorConfig(verifier TokenVerifier, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		Verifier:      verifier,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig authenticates when a token is present but lets
// anonymous calls through.
func OptionalAuthConfig(verifier TokenVerifier) *InterceptorConfig {
	config := NewInterceptorConfig(verifier)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

// authenticate returns ctx carrying the caller's account id.
// A token that is present but invalid is always rejected.
func (c *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	userID := forwardedUserID(ctx, c.Config)
	if userID == "" {
		if token := TokenFromIncomingContext(ctx, c.Config); token != "" {
			if c.Verifier == nil {
				return nil, status.Error(codes.Internal, "no token verifier configured")
			}
			id, err := c.Verifier.Verify(token)
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, "invalid or expired session")
			}
			userID = id
		}
	}

	if userID == "" {
		if c.RequireAuth && !c.PublicMethods[method] {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	return ca.ContextWithUserID(ctx, userID), nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that verifies session tokens.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config == nil {
		config = NewInterceptorConfig(nil)
	}
	config.ensureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authStream overrides the context of a wrapped stream
type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context { return s.ctx }

// StreamAuthInterceptor returns a gRPC stream interceptor that verifies session tokens.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	if config == nil {
		config = NewInterceptorConfig(nil)
	}
	config.ensureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}

// CodeFor maps an error kind to its gRPC status code.
func CodeFor(kind ca.ErrorKind) codes.Code {
	switch kind {
	case ca.KindNotFound:
		return codes.NotFound
	case ca.KindConflict:
		return codes.AlreadyExists
	case ca.KindPreconditionFailed, ca.KindExpired:
		return codes.FailedPrecondition
	case ca.KindInvalidCredential, ca.KindUnauthorized:
		return codes.Unauthenticated
	case ca.KindValidation:
		return codes.InvalidArgument
	case ca.KindForbidden:
		return codes.PermissionDenied
	case ca.KindUpstream:
		return codes.Unavailable
	}
	return codes.Internal
}

// ToStatus converts err into a gRPC status error. Errors that already carry
// a status pass through unchanged.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	e := ca.AsError(err)
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	code := CodeFor(e.Kind)
	if e.IsInternal() {
		code = codes.Internal
	}
	return status.Error(code, msg)
}

// UnaryErrorInterceptor converts handler errors with ToStatus.
func UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		return resp, ToStatus(err)
	}
}
