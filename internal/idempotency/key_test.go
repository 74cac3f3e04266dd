package idempotency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsOrderIndependent(t *testing.T) {
	first, err := Key("execute_code", map[string]any{"code": "1+1", "format": "text", "timeoutSeconds": 30})
	require.NoError(t, err)
	second, err := Key("execute_code", map[string]any{"timeoutSeconds": 30, "format": "text", "code": "1+1"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := Key("execute_code", map[string]any{"code": "1+2", "format": "text", "timeoutSeconds": 30})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
	assert.True(t, strings.HasPrefix(first, "execute_code:"))
}

func TestKeySeparatesTools(t *testing.T) {
	args := map[string]any{"filter": ""}
	execute, err := Key("execute_code", args)
	require.NoError(t, err)
	packages, err := Key("list_packages", args)
	require.NoError(t, err)
	assert.NotEqual(t, execute, packages)
	assert.Equal(t, strings.TrimPrefix(execute, "execute_code:"), strings.TrimPrefix(packages, "list_packages:"))
}

func TestKeyDistinguishesValues(t *testing.T) {
	base := map[string]any{"code": "1+1", "format": "text", "timeoutSeconds": 30, "workingDirectory": ""}
	baseKey, err := Key("execute_code", base)
	require.NoError(t, err)

	tests := []struct {
		name  string
		field string
		value any
	}{
		{name: "timeout", field: "timeoutSeconds", value: 31},
		{name: "format", field: "format", value: "latex"},
		{name: "working directory", field: "workingDirectory", value: "/tmp"},
		{name: "timeout as string", field: "timeoutSeconds", value: "30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{}
			for k, v := range base {
				args[k] = v
			}
			args[tt.field] = tt.value
			key, err := Key("execute_code", args)
			require.NoError(t, err)
			assert.NotEqual(t, baseKey, key)
		})
	}
}

func TestKeyRejectsUnencodableArguments(t *testing.T) {
	_, err := Key("execute_code", map[string]any{"code": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache key")
}
