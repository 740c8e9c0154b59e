package credentials

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetAPIKeyReadsFromEnvironment(t *testing.T) {
	t.Setenv(envAPIKey, "  sk-test-123  ")
	key, ok := Provider{}.GetAPIKey()
	require.True(t, ok)
	require.Equal(t, "sk-test-123", key)
}

func TestGetAPIKeyFalseWhenUnset(t *testing.T) {
	t.Setenv(envAPIKey, "")
	_, ok := Provider{}.GetAPIKey()
	require.False(t, ok)
}

func TestGetPhoneReadsFromEnvironment(t *testing.T) {
	t.Setenv(envPhone, "+15555550123")
	phone, ok := Provider{}.GetPhone()
	require.True(t, ok)
	require.Equal(t, "+15555550123", phone)
}

func TestConsolePasswordFalseWhenUnset(t *testing.T) {
	t.Setenv(envConsolePassword, "")
	_, ok := ConsolePassword()
	require.False(t, ok)
}
