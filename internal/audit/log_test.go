package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Ussu1112/back-officener/internal/auth"
	"github.com/Ussu1112/back-officener/internal/obs"
)

func TestLogEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := obs.Logger()
	obs.SetLogger(zap.New(core))
	t.Cleanup(func() { obs.SetLogger(prev) })

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{UserID: 42, Email: "kim@example.com"})

	require.NoError(t, LogEvent(ctx, "account.login", map[string]any{"email": "kim@example.com"}))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "audit", fields["type"])
	require.Equal(t, "account.login", fields["event"])
	require.Equal(t, "req-123", fields["request_id"])
	require.Equal(t, int64(42), fields["user_id"])
	nested, ok := fields["fields"].(map[string]any)
	require.True(t, ok, "fields: %#v", fields["fields"])
	require.Equal(t, "kim@example.com", nested["email"])
}

func TestLogEventRequiresName(t *testing.T) {
	require.Error(t, LogEvent(context.Background(), "  ", nil))
}
