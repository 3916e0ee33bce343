package interceptors

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
)

// capHandler: минимальный slog.Handler для захвата последней записи
// и всех атрибутов. Дополнительно ведёт счётчик сообщений по тексту.
type capHandler struct {
	base    []slog.Attr
	lastMsg string
	lastLvl slog.Level
	attrs   map[string]any
	count   map[string]int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})
	if h.count == nil {
		h.count = make(map[string]int)
	}
	h.count[r.Message]++
	h.lastMsg = r.Message
	h.lastLvl = r.Level
	h.attrs = out
	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.base = append(h.base, attrs...)
	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func TestUnaryLoggingInterceptor_Success_WithRequestID(t *testing.T) {
	t.Parallel()

	h := &capHandler{}

	md := metadata.New(map[string]string{"x-request-id": "rid-123"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	ctx = peer.NewContext(ctx, &peer.Peer{
		Addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50051},
	})

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	resp, err := UnaryLoggingInterceptor(slog.New(h))(ctx, "req", info, func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", resp)

	require.Equal(t, "grpc", h.lastMsg)
	require.Equal(t, slog.LevelInfo, h.lastLvl)
	require.Equal(t, "rid-123", h.attrs["request_id"])
	require.Equal(t, info.FullMethod, h.attrs["method"])
	require.Equal(t, "127.0.0.1:50051", h.attrs["peer"])
	require.Equal(t, "OK", h.attrs["code"])

	d, ok := h.attrs["dur"].(time.Duration)
	require.True(t, ok, "dur attr not found or wrong type: %#v", h.attrs["dur"])
	require.Greater(t, d, time.Duration(0))
}

func TestUnaryLoggingInterceptor_GeneratesUUID_And_LogsErrorCode(t *testing.T) {
	t.Parallel()

	h := &capHandler{}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := UnaryLoggingInterceptor(slog.New(h))(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})
	require.Error(t, err)

	require.Equal(t, "grpc", h.lastMsg)
	require.Equal(t, "NotFound", h.attrs["code"])
	// Ошибочная health-проба пишется на info, успешная: на debug.
	require.Equal(t, slog.LevelInfo, h.lastLvl)

	rid, _ := h.attrs["request_id"].(string)
	_, parseErr := uuid.Parse(rid)
	require.NoError(t, parseErr)
}

func TestUnaryLoggingInterceptor_HealthCheckSuccessIsDebug(t *testing.T) {
	t.Parallel()

	h := &capHandler{}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := UnaryLoggingInterceptor(slog.New(h))(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, h.lastLvl)
}

func TestUnaryLoggingInterceptor_PutsLoggerIntoContext(t *testing.T) {
	t.Parallel()

	h := &capHandler{}

	md := metadata.New(map[string]string{"x-request-id": "abc"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/UseLogger"}

	_, err := UnaryLoggingInterceptor(slog.New(h))(ctx, "req", info, func(ctx context.Context, req any) (any, error) {
		log.From(ctx).Info("handler", slog.String("probe", "1"))
		return "ok", nil
	})
	require.NoError(t, err)

	require.Equal(t, 1, h.count["handler"])
	require.Equal(t, "grpc", h.lastMsg)
	require.Equal(t, "abc", h.attrs["request_id"])
	require.Equal(t, "/grpc.health.v1.Health/UseLogger", h.attrs["method"])
	require.Equal(t, "-", h.attrs["peer"])
}

func TestRecover_PanicToInternal_AndLogsStack(t *testing.T) {
	t.Parallel()

	h := &capHandler{}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/WillPanic"}

	resp, err := Recover(slog.New(h))(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})

	require.Nil(t, resp)
	require.Equal(t, codes.Internal, status.Code(err))

	require.Equal(t, slog.LevelError, h.lastLvl)
	require.Equal(t, "panic_recovered", h.lastMsg)
	require.Equal(t, info.FullMethod, h.attrs["method"])
	require.NotEmpty(t, h.attrs["panic"])

	stack, ok := h.attrs["stack"].(string)
	require.True(t, ok)
	require.NotEmpty(t, stack)
}

func TestRecover_NoPanic_PassThrough_NoLogs(t *testing.T) {
	t.Parallel()

	h := &capHandler{}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/OK"}

	resp, err := Recover(slog.New(h))(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", resp)
	require.Equal(t, "", h.lastMsg)
}

func TestWithTimeout_SetsDeadline_AndHandlerSeesDeadlineExceeded(t *testing.T) {
	t.Parallel()

	const d = 40 * time.Millisecond

	start := time.Now()
	_, err := WithTimeout(d)(
		context.Background(),
		"req",
		&grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Sleep"},
		func(ctx context.Context, req any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, time.Since(start), d)
}

func TestWithTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	pdl, ok := parent.Deadline()
	require.True(t, ok)

	var childDL time.Time
	resp, err := WithTimeout(time.Second)(
		parent,
		"req",
		&grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/HasDeadline"},
		func(ctx context.Context, req any) (any, error) {
			childDL, _ = ctx.Deadline()
			return "ok", nil
		},
	)

	require.NoError(t, err)
	require.Equal(t, "ok", resp)
	require.WithinDuration(t, pdl, childDL, time.Millisecond)
}

func TestWithTimeout_ZeroDuration_PassThrough(t *testing.T) {
	t.Parallel()

	var hasDL bool
	resp, err := WithTimeout(0)(
		context.Background(),
		"req",
		&grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/NoTimeout"},
		func(ctx context.Context, req any) (any, error) {
			_, hasDL = ctx.Deadline()
			return "ok", nil
		},
	)

	require.NoError(t, err)
	require.Equal(t, "ok", resp)
	require.False(t, hasDL)
}
