package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"variantlab/internal/models"

	"github.com/fsnotify/fsnotify"
)

const (
	tempFilePrefix      = ".rec-"
	tempFileSuffix      = ".tmp"
	watchDebounce       = 250 * time.Millisecond
	localWriteQuietTime = 2 * time.Second
)

// FileRecordingBackend stores one JSON file per recording in a single directory
type FileRecordingBackend struct {
	dir string

	mu          sync.Mutex
	localWrites map[string]time.Time // key -> last write by this process
}

// NewFileRecordingBackend creates a backend rooted at dir. The directory is created lazily.
func NewFileRecordingBackend(dir string) *FileRecordingBackend {
	return &FileRecordingBackend{
		dir:         dir,
		localWrites: make(map[string]time.Time),
	}
}

// Name implements RecordingBackend
func (b *FileRecordingBackend) Name() string { return "file" }

// Dir returns the recordings directory
func (b *FileRecordingBackend) Dir() string { return b.dir }

// Ensure creates the recordings directory if it does not exist
func (b *FileRecordingBackend) Ensure(ctx context.Context) error {
	return os.MkdirAll(b.dir, 0755)
}

// Put writes to a hidden temp file in the same directory and renames it over the target,
// so readers never see a half-written recording.
func (b *FileRecordingBackend) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(b.dir, models.RecordingFilename(key))

	tmp, err := os.CreateTemp(b.dir, tempFilePrefix+"*"+tempFileSuffix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("chmod temp file: %w", err)
	}

	b.markLocalWrite(key)

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename into place: %w", err)
	}

	return target, nil
}

// Keys lists recording keys in ascending filename order. A missing directory holds no keys.
func (b *FileRecordingBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := models.KeyFromFilename(entry.Name())
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Read loads a recording file
func (b *FileRecordingBackend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, models.RecordingFilename(key)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBackendNotFound
		}
		return nil, err
	}
	return data, nil
}

// Close implements RecordingBackend
func (b *FileRecordingBackend) Close() error { return nil }

// SweepTempFiles removes temp files abandoned by interrupted writes
func (b *FileRecordingBackend) SweepTempFiles(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, tempFileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("⚠️  [RECORDINGS] Failed to remove temp file %s: %v", name, err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (b *FileRecordingBackend) markLocalWrite(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.localWrites[key] = now
	for k, at := range b.localWrites {
		if now.Sub(at) > localWriteQuietTime {
			delete(b.localWrites, k)
		}
	}
}

func (b *FileRecordingBackend) recentlyWrittenLocally(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	at, ok := b.localWrites[key]
	return ok && time.Since(at) < localWriteQuietTime
}

// Watch reports recordings written into the directory by other processes until ctx is done.
// Bursts of events for the same key are collapsed into one callback.
func (b *FileRecordingBackend) Watch(ctx context.Context, onChange func(key string)) error {
	if err := b.Ensure(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(b.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", b.dir, err)
	}

	log.Printf("👁️  [RECORDINGS] Watching %s for external writes", b.dir)

	go func() {
		defer watcher.Close()

		var mu sync.Mutex
		timers := make(map[string]*time.Timer)
		defer func() {
			mu.Lock()
			for _, t := range timers {
				t.Stop()
			}
			mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				key, ok := models.KeyFromFilename(filepath.Base(event.Name))
				if !ok {
					continue
				}

				mu.Lock()
				if t, exists := timers[key]; exists {
					t.Stop()
				}
				timers[key] = time.AfterFunc(watchDebounce, func() {
					mu.Lock()
					delete(timers, key)
					mu.Unlock()
					if ctx.Err() != nil || b.recentlyWrittenLocally(key) {
						return
					}
					onChange(key)
				})
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  [RECORDINGS] File watcher error: %v", err)
			}
		}
	}()

	return nil
}
