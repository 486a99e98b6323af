package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/islandhamstar/covid-impact/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchScoreConfig_ReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "weights.yaml", "weights:\n  case_growth: 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.ScoreConfig, 1)
	done := make(chan error, 1)
	go func() {
		done <- WatchScoreConfig(ctx, path, slog.New(slog.DiscardHandler), func(cfg domain.ScoreConfig) {
			select {
			case got <- cfg:
			default:
			}
		})
	}()

	updated := []byte("method: zscore\nweights:\n  case_growth: 3\n")
	assert.Eventually(t, func() bool {
		if err := os.WriteFile(path, updated, 0o600); err != nil {
			return false
		}
		select {
		case cfg := <-got:
			return cfg.Method == domain.MethodZScore && cfg.Weights["case_growth"] == 3
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatchScoreConfig_ReloadsOnRenameOver(t *testing.T) {
	path := writeFile(t, "weights.yaml", "weights:\n  case_growth: 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.ScoreConfig, 4)
	go func() {
		_ = WatchScoreConfig(ctx, path, slog.New(slog.DiscardHandler), func(cfg domain.ScoreConfig) {
			select {
			case got <- cfg:
			default:
			}
		})
	}()

	// Editors and ConfigMap mounts save by renaming a temp file over the target.
	saveByRename := func(weight string) bool {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, []byte("weights:\n  case_growth: "+weight+"\n"), 0o600); err != nil {
			return false
		}
		return os.Rename(tmp, path) == nil
	}
	waitFor := func(weight float64) func() bool {
		return func() bool {
			for {
				select {
				case cfg := <-got:
					if cfg.Weights["case_growth"] == weight {
						return true
					}
				case <-time.After(50 * time.Millisecond):
					return false
				}
			}
		}
	}

	for _, w := range []struct {
		text  string
		value float64
	}{{"2", 2}, {"5", 5}} {
		assert.Eventually(t, func() bool {
			return saveByRename(w.text) && waitFor(w.value)()
		}, 5*time.Second, 100*time.Millisecond, "no reload after renaming weight %s over the file", w.text)
	}
}

func TestWatchScoreConfig_IgnoresSiblingFiles(t *testing.T) {
	path := writeFile(t, "weights.yaml", "weights:\n  case_growth: 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.ScoreConfig, 1)
	go func() {
		_ = WatchScoreConfig(ctx, path, slog.New(slog.DiscardHandler), func(cfg domain.ScoreConfig) {
			select {
			case got <- cfg:
			default:
			}
		})
	}()

	// Give the watcher time to register before touching the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x: 1\n"), 0o600))

	select {
	case cfg := <-got:
		t.Fatalf("unexpected reload from sibling file: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchScoreConfig_MissingFile(t *testing.T) {
	err := WatchScoreConfig(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"),
		slog.New(slog.DiscardHandler), func(domain.ScoreConfig) {})
	require.Error(t, err)
}
