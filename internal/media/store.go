// store.go implements MediaStore for saving artifacts with TTL-based cleanup.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aviv90/tasker-server-sub010/internal/logging"
)

const (
	// DefaultMediaDir is the fallback artifact storage directory.
	DefaultMediaDir = "~/.tasker/media"

	// DefaultTTL is the default time-to-live for stored artifacts.
	DefaultTTL = 48 * time.Hour

	// DefaultMaxBytes is the default per-file size limit (50MB, videos included).
	DefaultMaxBytes = 50 * 1024 * 1024
)

// MediaStore manages artifact file storage with automatic TTL-based
// cleanup. Files are grouped in subdirectories by origin (generated,
// sources, covers).
type MediaStore struct {
	baseDir string
	ttl     time.Duration
	maxSize int64
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex // Protects concurrent saves
}

// StoreConfig configures the MediaStore.
type StoreConfig struct {
	Dir     string        // Base directory
	TTL     time.Duration // Time-to-live for files
	MaxSize int64         // Max file size in bytes
}

// NewMediaStore creates a MediaStore, expanding ~ and creating the base
// directory if needed.
func NewMediaStore(cfg StoreConfig) (*MediaStore, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultMediaDir
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxBytes
	}

	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, dir[1:])
	}
	dir = filepath.Clean(dir)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	store := &MediaStore{
		baseDir: dir,
		ttl:     ttl,
		maxSize: maxSize,
		stopCh:  make(chan struct{}),
	}

	logging.L_info("media: store initialized",
		"dir", dir,
		"ttl", ttl.String(),
		"maxSize", maxSize,
	)

	return store, nil
}

// Start begins the background cleanup goroutine.
func (s *MediaStore) Start() {
	cleanupInterval := s.ttl / 2
	if cleanupInterval < time.Minute {
		cleanupInterval = time.Minute
	}
	if cleanupInterval > time.Hour {
		cleanupInterval = time.Hour
	}

	logging.L_debug("media: starting cleanup goroutine", "interval", cleanupInterval.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		if err := s.cleanOld(); err != nil {
			logging.L_warn("media: initial cleanup error", "error", err)
		}

		for {
			select {
			case <-ticker.C:
				if err := s.cleanOld(); err != nil {
					logging.L_warn("media: cleanup error", "error", err)
				}
			case <-s.stopCh:
				logging.L_debug("media: cleanup goroutine stopped")
				return
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to finish.
func (s *MediaStore) Close() {
	close(s.stopCh)
	s.wg.Wait()
	logging.L_debug("media: store closed")
}

// Save stores data under the given subdirectory with the given extension.
// Returns the absolute path and a relative path suitable for serving.
func (s *MediaStore) Save(data []byte, subdir, ext string) (absPath string, relPath string, err error) {
	if int64(len(data)) > s.maxSize {
		return "", "", fmt.Errorf("file size %d exceeds limit %d", len(data), s.maxSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, subdir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create subdirectory: %w", err)
	}

	id := uuid.New().String()[:8]
	filename := id + ext
	absPath = filepath.Join(dir, filename)

	if err := os.WriteFile(absPath, data, 0600); err != nil {
		return "", "", fmt.Errorf("failed to write file: %w", err)
	}

	relPath = filepath.ToSlash(filepath.Join(subdir, filename))

	logging.L_debug("media: saved file",
		"relPath", relPath,
		"size", len(data),
	)

	return absPath, relPath, nil
}

// SaveFile copies a file from srcPath into the store.
func (s *MediaStore) SaveFile(srcPath, subdir string) (absPath string, relPath string, err error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to read source file: %w", err)
	}
	return s.Save(data, subdir, filepath.Ext(srcPath))
}

// RelativePath converts an absolute path within the store to its relative
// form. Returns empty string if the path is outside the store.
func (s *MediaStore) RelativePath(absolutePath string) string {
	rel, err := filepath.Rel(s.baseDir, absolutePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

// AbsolutePath resolves a relative store path to an absolute path,
// rejecting traversal outside the store root.
func (s *MediaStore) AbsolutePath(relativePath string) string {
	cleaned := filepath.Clean("/" + relativePath)
	abs := filepath.Join(s.baseDir, cleaned)
	if !strings.HasPrefix(abs, s.baseDir+string(filepath.Separator)) {
		return ""
	}
	return abs
}

// BaseDir returns the base directory of the media store.
func (s *MediaStore) BaseDir() string {
	return s.baseDir
}

// cleanOld removes files older than TTL from the media directory.
func (s *MediaStore) cleanOld() error {
	now := time.Now()
	cutoff := now.Add(-s.ttl)
	removedCount := 0

	err := filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files with errors
		}
		if info.IsDir() {
			return nil
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				logging.L_trace("media: failed to remove expired file", "path", path, "error", err)
			} else {
				removedCount++
				logging.L_trace("media: removed expired file", "path", path, "age", now.Sub(info.ModTime()).String())
			}
		}

		return nil
	})

	if removedCount > 0 {
		logging.L_debug("media: cleanup completed", "removed", removedCount)
	}

	return err
}
