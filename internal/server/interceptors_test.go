package server_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"connectrpc.com/connect"

	"github.com/soumyar-roy/ldpd-go/internal/server"
)

type testRequest struct {
	Value string
}

type testResponse struct {
	Value string
}

// -------------------------------------------------------------------------
// TestLoggingInterceptor
// -------------------------------------------------------------------------

func TestLoggingInterceptorSuccess(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	interceptor := server.LoggingInterceptor(logger)

	next := connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return connect.NewResponse(&testResponse{Value: "ok"}), nil
	})

	wrapped := interceptor(next)

	req := connect.NewRequest(&testRequest{Value: "in"})
	resp, err := wrapped(context.Background(), req)
	if err != nil {
		t.Fatalf("wrapped(): %v", err)
	}
	if resp == nil {
		t.Fatal("response is nil")
	}
}

func TestLoggingInterceptorError(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	interceptor := server.LoggingInterceptor(logger)

	wantErr := connect.NewError(connect.CodeNotFound, errors.New("not found"))
	next := connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return nil, wantErr
	})

	wrapped := interceptor(next)

	req := connect.NewRequest(&testRequest{Value: "in"})
	_, err := wrapped(context.Background(), req)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeNotFound {
		t.Errorf("code = %s, want NotFound", connectErr.Code())
	}
}

// -------------------------------------------------------------------------
// TestRecoveryInterceptor
// -------------------------------------------------------------------------

func TestRecoveryInterceptorNoPanic(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	interceptor := server.RecoveryInterceptor(logger)

	next := connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return connect.NewResponse(&testResponse{Value: "ok"}), nil
	})

	wrapped := interceptor(next)

	req := connect.NewRequest(&testRequest{Value: "in"})
	resp, err := wrapped(context.Background(), req)
	if err != nil {
		t.Fatalf("wrapped(): %v", err)
	}
	if resp == nil {
		t.Fatal("response is nil")
	}
}

func TestRecoveryInterceptorPanic(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	interceptor := server.RecoveryInterceptor(logger)

	next := connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		panic("intentional test panic")
	})

	wrapped := interceptor(next)

	req := connect.NewRequest(&testRequest{Value: "in"})
	_, err := wrapped(context.Background(), req)
	if err == nil {
		t.Fatal("expected error after panic, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeInternal {
		t.Errorf("code = %s, want Internal", connectErr.Code())
	}
	if !errors.Is(err, server.ErrPanicRecovered) {
		t.Errorf("error chain missing ErrPanicRecovered: %v", err)
	}
}

// -------------------------------------------------------------------------
// TestBothInterceptors — logging + recovery together
// -------------------------------------------------------------------------

func TestBothInterceptors(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	next := connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return connect.NewResponse(&testResponse{Value: "ok"}), nil
	})

	wrapped := server.LoggingInterceptor(logger)(server.RecoveryInterceptor(logger)(next))

	req := connect.NewRequest(&testRequest{Value: "in"})
	resp, err := wrapped(context.Background(), req)
	if err != nil {
		t.Fatalf("wrapped(): %v", err)
	}
	if resp == nil {
		t.Fatal("response is nil")
	}
}
