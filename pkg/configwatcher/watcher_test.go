package configwatcher

import (
	"context"
	"ecg_rating_backend/internal/config"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConfig = `
server:
  mode: debug
database:
  driver: sqlite
storage:
  type: memory
pipeline:
  daily_at: "%s"
`

func writeDailyAt(t *testing.T, path, dailyAt string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(baseConfig, dailyAt)), 0644))
}

func TestWatchConfigReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeDailyAt(t, path, "00:00")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *config.Config, 4)
	done := make(chan struct{})
	go func() {
		WatchConfig(ctx, path, func(cfg *config.Config) { got <- cfg })
		close(done)
	}()

	// 等待 watcher 注册完成
	time.Sleep(100 * time.Millisecond)
	writeDailyAt(t, path, "06:45")

	select {
	case cfg := <-got:
		assert.Equal(t, "06:45", cfg.Pipeline.DailyAt)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
