package security

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
)

const bearerPrefix = "Bearer "

// AuthFailure names why a request was rejected.
type AuthFailure string

// Rejection reasons.
const (
	AuthOK           AuthFailure = ""
	AuthMissing      AuthFailure = "missing_token"
	AuthInvalidToken AuthFailure = "invalid_token"
)

// Authorize reports whether headers carry the expected bearer key.
// An empty key disables authentication.
func Authorize(headers http.Header, expectedKey string) bool {
	return Check(headers, expectedKey) == AuthOK
}

// Check classifies the Authorization header against expectedKey.
func Check(headers http.Header, expectedKey string) AuthFailure {
	if expectedKey == "" {
		return AuthOK
	}
	token, ok := BearerToken(headers)
	if !ok {
		return AuthMissing
	}
	if !ConstantTimeEqual(token, expectedKey) {
		return AuthInvalidToken
	}
	return AuthOK
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
// The prefix is case-sensitive and the token is not trimmed.
func BearerToken(headers http.Header) (string, bool) {
	value := headers.Get("Authorization")
	if !strings.HasPrefix(value, bearerPrefix) {
		return "", false
	}
	token := value[len(bearerPrefix):]
	if token == "" {
		return "", false
	}
	return token, true
}

// ConstantTimeEqual compares presented with expected in time that depends
// only on the length of expected.
func ConstantTimeEqual(presented, expected string) bool {
	e := []byte(expected)
	p := []byte(presented)
	if len(p) != len(e) {
		subtle.ConstantTimeCompare(e, e)
		return false
	}
	return subtle.ConstantTimeCompare(p, e) == 1
}

// FailureRecorder counts rejected requests.
type FailureRecorder interface {
	RecordAuthFailure(reason string)
}

// Gate wraps next with bearer authentication. An empty key passes every
// request through.
func Gate(expectedKey string, logger *slog.Logger, recorder FailureRecorder, next http.Handler) http.Handler {
	if expectedKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failure := Check(r.Header, expectedKey)
		if failure == AuthOK {
			next.ServeHTTP(w, r)
			return
		}
		if recorder != nil {
			recorder.RecordAuthFailure(string(failure))
		}
		if logger != nil {
			logger.Warn("request rejected", "reason", string(failure), "path", r.URL.Path, "remote", r.RemoteAddr)
		}
		writeUnauthorized(w, failure)
	})
}

func writeUnauthorized(w http.ResponseWriter, failure AuthFailure) {
	envelope := protocol.NewErrorEnvelope(protocol.KindAuthentication, "missing or malformed bearer token", nil)
	challenge := "Bearer"
	if failure == AuthInvalidToken {
		envelope = protocol.NewErrorEnvelope(protocol.KindInvalidToken, "invalid bearer token", nil)
		challenge = `Bearer error="invalid_token"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(envelope)
}
