package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFloorTo(t *testing.T) {
	require.Equal(t, int64(1500), FloorTo(1700, 500))
	require.Equal(t, int64(1500), FloorTo(1500, 500))
	require.Equal(t, int64(-500), FloorTo(-1, 500))
	require.Equal(t, int64(42), FloorTo(42, 0))
}

func TestDedup(t *testing.T) {
	require.Equal(t, []string{"http://a", "http://b"}, Dedup([]string{"http://a/", "http://b", "http://a"}))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_LIST", " a, b ,,a")
	t.Setenv("X_DUR", "90s")
	t.Setenv("X_I64", "0")
	t.Setenv("X_BOOL", "true")

	require.Equal(t, []string{"a", "b"}, EnvList("X_LIST", nil))
	require.Equal(t, 90*time.Second, EnvDuration("X_DUR", time.Second))
	require.Equal(t, int64(0), EnvInt64("X_I64", 7))
	require.True(t, EnvBool("X_BOOL", false))
	require.Equal(t, "def", Env("X_MISSING", "def"))
}
