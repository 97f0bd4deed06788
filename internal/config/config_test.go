package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VIOLATION_LIMIT", "")
	t.Setenv("FORCE_SUBMIT_DELAY_MS", "")
	t.Setenv("EXECUTOR_BACKEND", "")

	cfg := Load()
	require.Equal(t, 4, cfg.ViolationLimit)
	require.Equal(t, 1500*time.Millisecond, cfg.ForceSubmitDelay)
	require.Equal(t, ExecutorRemote, cfg.ExecutorBackend)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EXECUTOR_BACKEND", "DOCKER")
	t.Setenv("EXECUTOR_TIMEOUT_MS", "2500")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("MAX_DB_CONNS", "not-a-number")

	cfg := Load()
	require.Equal(t, ExecutorDocker, cfg.ExecutorBackend)
	require.Equal(t, 2500*time.Millisecond, cfg.ExecutorTimeout)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.EqualValues(t, 16, cfg.MaxDBConns)
}

func TestCacheKeys(t *testing.T) {
	require.Equal(t, "student:s1:exam:e1:session_start", CacheKey.SessionStartKey("e1", "s1"))
	require.Equal(t, "student:s1:exam:e1:answers", CacheKey.DraftAnswersKey("e1", "s1"))
	require.Equal(t, "exam:e1:monitor", CacheKey.ExamMonitorChannel("e1"))
}
