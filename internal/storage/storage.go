package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"camproducer/internal/logger"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("object not found")

// Storage stores produced fragments, init segments and playlists
type Storage interface {
	// Write writes data to a path
	Write(ctx context.Context, path string, data []byte) error

	// Read reads data from a path
	Read(ctx context.Context, path string) ([]byte, error)

	// Delete deletes an object; deleting a missing object is not an error
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, path string) (bool, error)

	// List lists object names directly under dir
	List(ctx context.Context, dir string) ([]string, error)

	// Close releases backend resources
	Close() error
}

// Config selects and configures a storage backend
type Config struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // local or gcs
	LocalDir   string `mapstructure:"local_dir" yaml:"local_dir"`
	GCSProject string `mapstructure:"gcs_project" yaml:"gcs_project"`
	GCSBucket  string `mapstructure:"gcs_bucket" yaml:"gcs_bucket"`
	GCSPrefix  string `mapstructure:"gcs_prefix" yaml:"gcs_prefix"`
}

// New creates the backend named by cfg.Backend
func New(ctx context.Context, cfg Config) (Storage, error) {
	log := logger.WithComponent("storage")

	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		s, err := NewLocalStorage(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		log.Info().Str("dir", cfg.LocalDir).Msg("Using local storage")
		return s, nil
	case "gcs":
		s, err := NewGCSStorage(ctx, cfg.GCSProject, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, err
		}
		log.Info().Str("bucket", cfg.GCSBucket).Str("prefix", cfg.GCSPrefix).Msg("Using GCS storage")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// ContentType returns the HTTP content type for a stored object
func ContentType(p string) string {
	switch path.Ext(p) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".m4s":
		return "video/iso.segment"
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// CacheControl returns the cache policy for a stored object
func CacheControl(p string) string {
	switch path.Ext(p) {
	case ".m3u8":
		// Playlists change with every fragment
		return "no-cache, no-store, must-revalidate"
	case ".m4s", ".mp4":
		return "public, max-age=3600"
	default:
		return "public, max-age=300"
	}
}

// LocalStorage implements Storage using local filesystem
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local storage directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
	}, nil
}

// resolve maps an object path into the base directory, refusing paths that escape it
func (s *LocalStorage) resolve(p string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(p))
	full := filepath.Join(s.baseDir, clean)
	if full == filepath.Clean(s.baseDir) && p != "" && p != "." && p != "/" {
		return "", fmt.Errorf("invalid path %q", p)
	}
	return full, nil
}

// Write writes data to a file via a temporary file so readers never see partial content
func (s *LocalStorage) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := s.resolve(p)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to chmod file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Read reads data from a file
func (s *LocalStorage) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

// Delete deletes a file
func (s *LocalStorage) Delete(ctx context.Context, p string) error {
	fullPath, err := s.resolve(p)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Exists checks if a file exists
func (s *LocalStorage) Exists(ctx context.Context, p string) (bool, error) {
	fullPath, err := s.resolve(p)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return true, nil
}

// List lists files in a directory
func (s *LocalStorage) List(ctx context.Context, dir string) ([]string, error) {
	fullPath, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasPrefix(entry.Name(), ".tmp-") {
			files = append(files, entry.Name())
		}
	}

	return files, nil
}

// Close is a no-op for the local filesystem
func (s *LocalStorage) Close() error {
	return nil
}
