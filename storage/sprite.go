package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxSpriteBytes int64 = 5 * 1024 * 1024

	fetchTimeout = 10 * time.Second

	// Some sprite hosts reject requests without a browser-looking agent.
	fetchUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// SpriteOutcome reports what Resolve actually did with a sprite source.
type SpriteOutcome int

const (
	// SpriteSkipped means no usable source was provided.
	SpriteSkipped SpriteOutcome = iota
	// SpriteStored means the sprite bytes were written to the asset directory.
	SpriteStored
	// SpriteFailed means a source was provided but could not be stored.
	SpriteFailed
)

// SpriteSource describes where the bytes for a record's sprite may come from.
// At most one of the fields is consulted, in declaration order.
type SpriteSource struct {
	Upload    *multipart.FileHeader
	RemoteURL string
	LocalPath string
}

// SpriteStore persists sprite images on local disk under a deterministic
// per-record path (<id>.png) and optionally mirrors them to object storage.
type SpriteStore struct {
	dir       string
	publicURL string
	client    *http.Client
	mirror    *SpriteMirror
}

// NewSpriteStoreFromEnv initialises the sprite store from ASSET_DIR and
// ASSET_PUBLIC_URL, creating the asset directory when absent. A MinIO mirror
// is attached when the MINIO_* variables are configured.
func NewSpriteStoreFromEnv() (*SpriteStore, error) {
	dir := strings.TrimSpace(os.Getenv("ASSET_DIR"))
	if dir == "" {
		dir = "./assets"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve asset dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure asset dir: %w", err)
	}

	mirror, err := NewSpriteMirrorFromEnv()
	if err != nil {
		return nil, err
	}

	publicURL := strings.TrimSuffix(strings.TrimSpace(os.Getenv("ASSET_PUBLIC_URL")), "/")

	return &SpriteStore{
		dir:       abs,
		publicURL: publicURL,
		client:    &http.Client{Timeout: fetchTimeout},
		mirror:    mirror,
	}, nil
}

// Dir returns the directory sprite files are written to.
func (s *SpriteStore) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// PublicURL returns the externally addressable URI for a record's sprite.
// The URI is derived purely from the record ID and does not imply the file exists.
func (s *SpriteStore) PublicURL(id uint64) string {
	base := ""
	if s != nil {
		base = s.publicURL
	}
	return fmt.Sprintf("%s/assets/%d.png", base, id)
}

// spritePath returns the deterministic on-disk path for a record's sprite.
func (s *SpriteStore) spritePath(id uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.png", id))
}

// Resolve stores the sprite for the given record ID from whichever source is
// present. Failures are reported to the caller for logging only; record
// creation is expected to proceed regardless of the outcome.
func (s *SpriteStore) Resolve(ctx context.Context, id uint64, source SpriteSource) (SpriteOutcome, error) {
	if s == nil {
		return SpriteSkipped, errors.New("storage: sprite store not configured")
	}

	switch {
	case source.Upload != nil:
		data, err := readUpload(source.Upload)
		if err != nil {
			return SpriteFailed, err
		}
		return s.store(ctx, id, data)
	case strings.HasPrefix(strings.TrimSpace(source.RemoteURL), "http"):
		data, err := s.fetch(ctx, strings.TrimSpace(source.RemoteURL))
		if err != nil {
			return SpriteFailed, err
		}
		return s.store(ctx, id, data)
	case strings.TrimSpace(source.LocalPath) != "":
		data, err := os.ReadFile(strings.TrimSpace(source.LocalPath))
		if err != nil {
			return SpriteFailed, fmt.Errorf("storage: read local sprite: %w", err)
		}
		return s.store(ctx, id, data)
	default:
		return SpriteSkipped, nil
	}
}

// Remove deletes the stored sprite for a record, locally and from the mirror.
func (s *SpriteStore) Remove(ctx context.Context, id uint64) error {
	if s == nil {
		return nil
	}
	if err := os.Remove(s.spritePath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove sprite: %w", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Remove(ctx, id); err != nil {
			log.Printf("storage: remove mirrored sprite %d: %v", id, err)
		}
	}
	return nil
}

// store writes the sprite bytes atomically, replacing any existing file, and
// mirrors them to object storage when a mirror is configured.
func (s *SpriteStore) store(ctx context.Context, id uint64, data []byte) (SpriteOutcome, error) {
	tmp := fmt.Sprintf("%s.%s.tmp", s.spritePath(id), uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return SpriteFailed, fmt.Errorf("storage: write sprite: %w", err)
	}
	if err := os.Rename(tmp, s.spritePath(id)); err != nil {
		_ = os.Remove(tmp)
		return SpriteFailed, fmt.Errorf("storage: place sprite: %w", err)
	}

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, id, data); err != nil {
			log.Printf("storage: mirror sprite %d: %v", id, err)
		}
	}

	return SpriteStored, nil
}

// fetch downloads sprite bytes from a remote URL with a bounded timeout.
func (s *SpriteStore) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build sprite request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch sprite: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("storage: fetch sprite: unexpected status %d", resp.StatusCode)
	}

	var buffer bytes.Buffer
	written, err := io.Copy(&buffer, io.LimitReader(resp.Body, maxSpriteBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read sprite body: %w", err)
	}
	if written > maxSpriteBytes {
		return nil, fmt.Errorf("storage: sprite size exceeds %d bytes", maxSpriteBytes)
	}

	return buffer.Bytes(), nil
}

// readUpload drains an uploaded sprite file while enforcing the size cap.
func readUpload(fileHeader *multipart.FileHeader) ([]byte, error) {
	if fileHeader.Size > 0 && fileHeader.Size > maxSpriteBytes {
		return nil, fmt.Errorf("storage: sprite size exceeds %d bytes", maxSpriteBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("storage: open sprite upload: %w", err)
	}
	defer src.Close()

	var buffer bytes.Buffer
	written, err := io.Copy(&buffer, io.LimitReader(src, maxSpriteBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read sprite upload: %w", err)
	}
	if written > maxSpriteBytes {
		return nil, fmt.Errorf("storage: sprite size exceeds %d bytes", maxSpriteBytes)
	}

	return buffer.Bytes(), nil
}
