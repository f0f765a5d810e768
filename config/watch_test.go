package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWatcherRequiresPath(t *testing.T) {
	_, err := NewWatcher("", "", nil, nil)
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, "log:\n  level: info\n")
	got := make(chan AppConfig, 4)
	w, err := NewWatcher(path, "", nil, func(cfg AppConfig) {
		select {
		case got <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	// 截断和写入可能分成两次事件，以最后读到的内容为准
	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-got:
			if cfg.Log.Level == "debug" {
				assert.NoError(t, w.Health())
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatcherKeepsOldConfigOnError(t *testing.T) {
	path := writeTempConfig(t, "log:\n  level: info\n")
	w, err := NewWatcher(path, "", nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))

	require.Eventually(t, func() bool { return w.Health() != nil }, 3*time.Second, 10*time.Millisecond)
	assert.ErrorContains(t, w.Health(), "log.level")
}

func TestWatcherStopIdempotent(t *testing.T) {
	w, err := NewWatcher(writeTempConfig(t, ""), "", nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())

	unstarted, err := NewWatcher("x.yaml", "", nil, nil)
	require.NoError(t, err)
	assert.NoError(t, unstarted.Stop())
}
