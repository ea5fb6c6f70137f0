// Package local implements the on-disk content store for images and the
// manifest.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/JakeFAU/geohints-scraper/internal/hash/sha256"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

const lockFileName = ".geohints.lock"

// ErrLocked is returned by Lock when another process holds the run lock.
var ErrLocked = errors.New("another geohints run holds the output directory lock")

// Config captures the parameters for the local content store.
type Config struct {
	// BaseDir is the root directory where images are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// ManifestPath defaults to {BaseDir}/manifest.json.
	ManifestPath string `mapstructure:"manifest_path" yaml:"manifest_path"`
}

// Store writes images and the manifest to the local filesystem. Every write
// goes to a temporary file in the destination directory and is renamed into
// place, so readers never observe a partial file.
type Store struct {
	baseDir      string
	manifestPath string
	clock        pipeline.Clock
	hasher       *sha256.Hasher
}

// New creates a local content store, creating BaseDir if needed.
func New(cfg Config, clock pipeline.Clock) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, &pipeline.FilesystemError{Path: cfg.BaseDir, Op: pipeline.OpRead, Err: err}
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, &pipeline.FilesystemError{Path: cfg.BaseDir, Op: pipeline.OpMkdir, Err: mkErr}
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path %s is not a directory", cfg.BaseDir)
	}

	manifestPath := cfg.ManifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(cfg.BaseDir, "manifest.json")
	}

	return &Store{
		baseDir:      filepath.Clean(cfg.BaseDir),
		manifestPath: manifestPath,
		clock:        clock,
		hasher:       sha256.New(),
	}, nil
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string { return s.baseDir }

// ManifestPath returns the manifest location.
func (s *Store) ManifestPath() string { return s.manifestPath }

// Resolve maps a relative path under the store root to an absolute path,
// rejecting paths that escape the root.
func (s *Store) Resolve(relPath string) (string, error) {
	if strings.TrimSpace(relPath) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(relPath)))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", relPath)
	}
	return fullPath, nil
}

// SaveImage atomically writes data under relPath and returns the absolute
// path.
func (s *Store) SaveImage(ctx context.Context, relPath string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	fullPath, err := s.Resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(fullPath, data); err != nil {
		return "", err
	}
	return fullPath, nil
}

// ReadImage returns the bytes stored under relPath.
func (s *Store) ReadImage(ctx context.Context, relPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	fullPath, err := s.Resolve(relPath)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is confined to the store root by Resolve.
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, &pipeline.FilesystemError{Path: fullPath, Op: pipeline.OpRead, Err: err}
	}
	return data, nil
}

// Exists reports whether a file is stored under relPath.
func (s *Store) Exists(_ context.Context, relPath string) (bool, error) {
	fullPath, err := s.Resolve(relPath)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &pipeline.FilesystemError{Path: fullPath, Op: pipeline.OpRead, Err: err}
	}
	return true, nil
}

// HashContent returns the SHA-256 content hash of data.
func (s *Store) HashContent(data []byte) pipeline.ContentHash {
	return s.hasher.Hash(data)
}

// ReadManifest loads the manifest. A missing file yields an empty manifest;
// malformed JSON or a schema violation yields a ParseError.
func (s *Store) ReadManifest(ctx context.Context) (pipeline.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	data, err := os.ReadFile(s.manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return pipeline.EmptyManifest(s.clock.Now()), nil
		}
		return pipeline.Manifest{}, &pipeline.FilesystemError{Path: s.manifestPath, Op: pipeline.OpRead, Err: err}
	}

	var m pipeline.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return pipeline.Manifest{}, &pipeline.ParseError{Source: s.manifestPath, Message: "invalid manifest JSON", Err: err}
	}
	if err := m.Validate(); err != nil {
		return pipeline.Manifest{}, &pipeline.ParseError{Source: s.manifestPath, Message: "manifest schema violation", Err: err}
	}
	if m.Entries == nil {
		m.Entries = []pipeline.Entry{}
	}
	return m, nil
}

// WriteManifest atomically replaces the manifest with m.
func (s *Store) WriteManifest(ctx context.Context, m pipeline.Manifest) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = []pipeline.Entry{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return writeAtomic(s.manifestPath, append(data, '\n'))
}

// Lock takes the advisory run lock for the store. It fails fast with
// ErrLocked if another process holds it. The returned function releases it.
func (s *Store) Lock() (func() error, error) {
	path := filepath.Join(s.baseDir, lockFileName)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, &pipeline.FilesystemError{Path: path, Op: pipeline.OpWrite, Err: err}
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return func() error {
		if err := fl.Unlock(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("release lock %s: %w", path, err)
		}
		return nil
	}, nil
}

func writeAtomic(fullPath string, data []byte) error {
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &pipeline.FilesystemError{Path: dir, Op: pipeline.OpMkdir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return &pipeline.FilesystemError{Path: fullPath, Op: pipeline.OpWrite, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return &pipeline.FilesystemError{Path: fullPath, Op: pipeline.OpWrite, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return &pipeline.FilesystemError{Path: fullPath, Op: pipeline.OpWrite, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &pipeline.FilesystemError{Path: fullPath, Op: pipeline.OpWrite, Err: err}
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		cleanup()
		return &pipeline.FilesystemError{Path: fullPath, Op: pipeline.OpRename, Err: err}
	}
	return nil
}
