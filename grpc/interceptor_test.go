package grpc

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	dt "github.com/deeptrace/deeptrace"
)

// fakeSessions resolves a fixed set of session ids.
type fakeSessions struct {
	users map[string]*dt.User
	err   error
}

func (f *fakeSessions) ResolveSession(ctx context.Context, id string) (*dt.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{users: map[string]*dt.User{
		"good-session": {ID: "user123", Username: "alice"},
	}}
}

func withSession(id string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(DefaultMetadataKeySessionID, id))
}

func expectCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status error, got %v", err)
	}
	if st.Code() != want {
		t.Errorf("expected %v code, got %v", want, st.Code())
	}
}

func TestNewPublicMethodsConfig(t *testing.T) {
	config := NewPublicMethodsConfig(nil, "/pkg.Svc/Method1", "/pkg.Svc/Method2")
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true")
	}
	if !config.PublicMethods["/pkg.Svc/Method1"] || !config.PublicMethods["/pkg.Svc/Method2"] {
		t.Error("expected Method1 and Method2 to be public")
	}
	if config.PublicMethods["/pkg.Svc/Method3"] {
		t.Error("expected Method3 to not be public")
	}
}

func TestUnaryAuthInterceptor_NoSession(t *testing.T) {
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(newFakeSessions()))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestUnaryAuthInterceptor_UnknownSession(t *testing.T) {
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(newFakeSessions()))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(withSession("stale"), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestUnaryAuthInterceptor_ValidSession(t *testing.T) {
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(newFakeSessions()))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	var seen *dt.User
	result, err := interceptor(withSession("good-session"), nil, info, func(ctx context.Context, req any) (any, error) {
		seen = UserFromContext(ctx)
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "result" {
		t.Errorf("unexpected result %v", result)
	}
	if seen == nil || seen.ID != "user123" {
		t.Errorf("expected user123 in handler context, got %v", seen)
	}
}

func TestUnaryAuthInterceptor_PublicMethod(t *testing.T) {
	interceptor := UnaryAuthInterceptor(NewPublicMethodsConfig(newFakeSessions(), "/pkg.Svc/PublicMethod"))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/PublicMethod"}

	handlerCalled := false
	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		handlerCalled = true
		if IsAuthenticated(ctx) {
			t.Error("expected anonymous context")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error for public method: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called for public method")
	}
}

func TestUnaryAuthInterceptor_OptionalAuth(t *testing.T) {
	interceptor := UnaryAuthInterceptor(OptionalAuthConfig(newFakeSessions()))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	handlerCalled := false
	_, err := interceptor(withSession("stale"), nil, info, func(ctx context.Context, req any) (any, error) {
		handlerCalled = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error with optional auth: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called with optional auth")
	}
}

func TestUnaryAuthInterceptor_StoreFailure(t *testing.T) {
	sessions := newFakeSessions()
	sessions.err = &dt.AuthError{Code: dt.ErrCodeTransientStore, Message: "down", Err: errors.New("dial tcp")}
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(sessions))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(withSession("good-session"), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unavailable)
}

// mockServerStream implements grpc.ServerStream for testing
type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

func TestStreamAuthInterceptor_NoSession(t *testing.T) {
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(newFakeSessions()))
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"}

	err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, func(srv any, ss grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestStreamAuthInterceptor_ValidSession(t *testing.T) {
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(newFakeSessions()))
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"}

	var seen *dt.User
	err := interceptor(nil, &mockServerStream{ctx: withSession("good-session")}, info, func(srv any, ss grpc.ServerStream) error {
		seen = UserFromContext(ss.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil || seen.Username != "alice" {
		t.Errorf("expected alice in stream context, got %v", seen)
	}
}
