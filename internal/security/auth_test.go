package security

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func header(value string) http.Header {
	h := http.Header{}
	if value != "" {
		h.Set("Authorization", value)
	}
	return h
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		key      string
		expected bool
	}{
		{name: "auth disabled", header: "", key: "", expected: true},
		{name: "auth disabled ignores header", header: "Bearer anything", key: "", expected: true},
		{name: "exact match", header: "Bearer s3cret", key: "s3cret", expected: true},
		{name: "missing header", header: "", key: "s3cret", expected: false},
		{name: "wrong scheme", header: "Basic s3cret", key: "s3cret", expected: false},
		{name: "lower case scheme", header: "bearer s3cret", key: "s3cret", expected: false},
		{name: "empty token", header: "Bearer ", key: "s3cret", expected: false},
		{name: "wrong token", header: "Bearer s3creT", key: "s3cret", expected: false},
		{name: "prefix of key", header: "Bearer s3cr", key: "s3cret", expected: false},
		{name: "trailing space not trimmed", header: "Bearer s3cret ", key: "s3cret", expected: false},
		{name: "extra space not trimmed", header: "Bearer  s3cret", key: "s3cret", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Authorize(header(tt.header), tt.key))
		})
	}
}

func TestCheckReasons(t *testing.T) {
	assert.Equal(t, AuthMissing, Check(header(""), "k"))
	assert.Equal(t, AuthMissing, Check(header("Token k"), "k"))
	assert.Equal(t, AuthInvalidToken, Check(header("Bearer x"), "k"))
	assert.Equal(t, AuthOK, Check(header("Bearer k"), "k"))
}

func TestAuthorizeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.StringMatching(`[A-Za-z0-9._~+/=-]{1,48}`).Draw(t, "key")
		token := rapid.StringMatching(`[A-Za-z0-9._~+/=-]{1,48}`).Draw(t, "token")

		if got := Authorize(header("Bearer "+token), key); got != (token == key) {
			t.Fatalf("Authorize(%q, %q) = %v", token, key, got)
		}
		if !Authorize(header("Bearer "+key), key) {
			t.Fatalf("exact key rejected")
		}
		if !Authorize(header("Bearer "+token), "") {
			t.Fatalf("empty key must authorize everything")
		}
	})
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abcd", "abc"))
	assert.False(t, ConstantTimeEqual("", "abc"))
	assert.False(t, ConstantTimeEqual("abd", "abc"))
}

type countingRecorder struct {
	reasons []string
}

func (r *countingRecorder) RecordAuthFailure(reason string) {
	r.reasons = append(r.reasons, reason)
}

func TestGate(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	recorder := &countingRecorder{}
	handler := Gate("s3cret", nil, recorder, next)

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "AuthenticationError", body["error"])
		assert.NotEmpty(t, body["message"])
		assert.NotEmpty(t, body["timestamp"])
		assert.False(t, strings.Contains(rec.Body.String(), "s3cret"))
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer"))
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "InvalidTokenError", body["error"])
		assert.False(t, strings.Contains(rec.Body.String(), "s3cret"))
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	assert.Equal(t, []string{"missing_token", "invalid_token"}, recorder.reasons)
}

func TestGateDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	Gate("", nil, nil, next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRedactArguments(t *testing.T) {
	redacted := RedactArguments(map[string]any{
		"code":           strings.Repeat("x", 10),
		"apiToken":       "abc",
		"timeoutSeconds": 5,
	}, 4)
	assert.Equal(t, "xxxx…", redacted["code"])
	assert.Equal(t, "***", redacted["apiToken"])
	assert.Equal(t, 5, redacted["timeoutSeconds"])
	assert.Nil(t, RedactArguments(nil, 4))
}

func TestRedactEnv(t *testing.T) {
	assert.Equal(t,
		[]string{"PATH=/bin", "LICENSE_TOKEN=***", "BROKEN"},
		RedactEnv([]string{"PATH=/bin", "LICENSE_TOKEN=abc", "BROKEN"}),
	)
}
