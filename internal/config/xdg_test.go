package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetConfigPaths(t *testing.T) {
	x := NewXDGDirs()

	paths := x.GetConfigPaths("config.json")
	if len(paths) == 0 {
		t.Fatal("expected at least one config path")
	}
	for _, p := range paths {
		if !strings.Contains(p, "sonix") {
			t.Errorf("path %q missing app directory", p)
		}
		if filepath.Base(p) != "config.json" {
			t.Errorf("path %q missing filename", p)
		}
	}

	// Without a filename, paths are directories
	dirs := x.GetConfigPaths("")
	if len(dirs) == 0 {
		t.Fatal("expected at least one config directory")
	}
	if filepath.Base(dirs[0]) != "sonix" {
		t.Errorf("directory path %q should end in app directory", dirs[0])
	}
}

func TestGetCachePath(t *testing.T) {
	x := NewXDGDirs()

	path := x.GetCachePath("tracking")
	if !strings.Contains(path, "sonix") || filepath.Base(path) != "tracking" {
		t.Errorf("unexpected cache path %q", path)
	}

	bare := x.GetCachePath("")
	if filepath.Base(bare) != "sonix" {
		t.Errorf("unexpected bare cache path %q", bare)
	}
}

func TestCreateCacheDir(t *testing.T) {
	x := NewXDGDirs()
	if err := x.CreateCacheDir("test-scratch"); err != nil {
		t.Errorf("create cache dir failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(x.GetCachePath("test-scratch")) })
}
