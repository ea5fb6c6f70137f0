// Package wrangler uploads objects to R2 by shelling out to the wrangler CLI.
// It serves operators who are logged in with wrangler but hold no S3 API
// token.
package wrangler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

// DefaultCacheControl marks content-addressed objects as immutable.
const DefaultCacheControl = "public, max-age=31536000, immutable"

// ExitError reports a command that exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("wrangler exited with status %d", e.Code)
	}
	return fmt.Sprintf("wrangler exited with status %d: %s", e.Code, msg)
}

// Runner executes a command, streaming its stdout to stdout.
type Runner interface {
	Run(ctx context.Context, stdout io.Writer, name string, args ...string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, stdout io.Writer, name string, args ...string) error {
	// #nosec G204 -- the command comes from operator configuration.
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

// Config controls the CLI invocation.
type Config struct {
	Bucket string
	// Command is the program and leading arguments, e.g. ["npx", "wrangler"].
	Command      []string
	CacheControl string
}

// ObjectStore implements pipeline.ObjectStore through wrangler r2 commands.
type ObjectStore struct {
	runner       Runner
	bucket       string
	command      []string
	cacheControl string
}

// New creates a wrangler-backed object store. A nil runner uses ExecRunner.
func New(cfg Config, runner Runner) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	command := cfg.Command
	if len(command) == 0 {
		command = []string{"npx", "wrangler"}
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = DefaultCacheControl
	}
	return &ObjectStore{
		runner:       runner,
		bucket:       cfg.Bucket,
		command:      append([]string(nil), command...),
		cacheControl: cacheControl,
	}, nil
}

func (s *ObjectStore) run(ctx context.Context, stdout io.Writer, args ...string) error {
	full := append(append([]string(nil), s.command[1:]...), args...)
	return s.runner.Run(ctx, stdout, s.command[0], full...)
}

// PutFile uploads a local file under key.
func (s *ObjectStore) PutFile(ctx context.Context, key, localPath, contentType string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	err := s.run(ctx, io.Discard, "r2", "object", "put", s.bucket+"/"+key,
		"--file="+localPath,
		"--content-type="+contentType,
		"--cache-control="+s.cacheControl,
		"--remote",
	)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present. Any non-zero exit is treated as
// absent since wrangler does not distinguish missing objects. The object
// body is discarded.
func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	err := s.run(ctx, io.Discard, "r2", "object", "get", s.bucket+"/"+key, "--pipe", "--remote")
	if err == nil {
		return true, nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("get object %s: %w", key, err)
}

// List returns every key under prefix.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out bytes.Buffer
	if err := s.run(ctx, &out, "r2", "object", "list", s.bucket, "--prefix="+prefix, "--remote"); err != nil {
		return nil, fmt.Errorf("list objects under %q: %w", prefix, err)
	}
	return parseList(out.Bytes())
}

func parseList(out []byte) ([]string, error) {
	if !gjson.ValidBytes(out) {
		return nil, &pipeline.ParseError{Source: "wrangler", Message: "invalid list output"}
	}
	result := gjson.GetBytes(out, "objects.#.key")
	keys := make([]string, 0, len(result.Array()))
	for _, k := range result.Array() {
		if k.String() != "" {
			keys = append(keys, k.String())
		}
	}
	return keys, nil
}
