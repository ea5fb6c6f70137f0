package pipeline

import (
	"context"
	"time"
)

// Fetcher performs rate-limited, retried HTTP GETs.
type Fetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// Parser extracts image candidates from one site's category pages.
type Parser interface {
	Source() Source
	Categories() []Category
	PageURL(category Category) (string, error)
	Parse(html string, category Category) ([]Candidate, error)
}

// ContentStore persists image bytes and the manifest on local disk.
type ContentStore interface {
	SaveImage(ctx context.Context, relPath string, data []byte) (string, error)
	ReadImage(ctx context.Context, relPath string) ([]byte, error)
	Exists(ctx context.Context, relPath string) (bool, error)
	Resolve(relPath string) (string, error)
	ReadManifest(ctx context.Context) (Manifest, error)
	WriteManifest(ctx context.Context, m Manifest) error
}

// Transcoder turns raw image bytes into the canonical renditions.
type Transcoder interface {
	Process(data []byte) (ProcessedImage, error)
	Extension() string
	ContentType() string
}

// ObjectStore is a remote blob store addressed by key.
type ObjectStore interface {
	PutFile(ctx context.Context, key, localPath, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
