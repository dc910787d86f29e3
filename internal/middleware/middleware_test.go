package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/stylist-engine/pkg/logger"
)

const testSecret = "test-secret"

func identityHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Tenant", GetTenantID(r.Context()))
		w.Header().Set("X-User", GetUserID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuth(t *testing.T) {
	valid, err := IssueToken(testSecret, "tenant-a", "user-1", time.Minute, "chat")
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "tenant-a", "user-1", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other-secret", "tenant-a", "user-1", time.Minute)
	require.NoError(t, err)
	noTenant, err := IssueToken(testSecret, "", "user-1", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + valid, want: http.StatusNoContent},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + wrongKey, want: http.StatusUnauthorized},
		{name: "no tenant", header: "Bearer " + noTenant, want: http.StatusUnauthorized},
	}

	h := Auth(testSecret)(identityHandler(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "tenant-a", rec.Header().Get("X-Tenant"))
				assert.Equal(t, "user-1", rec.Header().Get("X-User"))
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	admin, err := IssueToken(testSecret, "tenant-a", "user-1", time.Minute, ScopeAdmin)
	require.NoError(t, err)
	plain, err := IssueToken(testSecret, "tenant-a", "user-1", time.Minute)
	require.NoError(t, err)

	h := Auth(testSecret)(RequireScope(ScopeAdmin)(identityHandler(t)))

	for token, want := range map[string]int{
		admin: http.StatusNoContent,
		plain: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/sessions", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
}

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("what should I wear to a gala?"))
	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent("  \n\t"))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", MaxMessageLength+1)))
	assert.Error(t, ValidateMessageContent(string([]byte{0xff, 0xfe})))
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID(uuid.Must(uuid.NewV7()).String()))
	assert.Error(t, ValidateSessionID("not-a-uuid"))
}

func TestLogging_CorrelationIDAndFlush(t *testing.T) {
	var flushed bool
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "corr-1", GetCorrelationID(r.Context()))
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		f.Flush()
		flushed = true
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, flushed)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(identityHandler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
