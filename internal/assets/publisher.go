// Package assets publishes validated uploads under opaque names, verifies
// they are reachable from the outside, and expires them once the detector
// no longer needs them.
package assets

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ai-detect/internal/imagecheck"
)

// Origin is the externally visible scheme and host a published URL must
// carry. Behind a reverse proxy these differ from the raw connection, so
// they come from the forwarded headers rather than the socket.
type Origin struct {
	Scheme string
	Host   string
}

// OriginFromRequest derives the external origin: X-Forwarded-Proto wins over
// the configured default scheme, X-Forwarded-Host wins over the request's
// own Host.
func OriginFromRequest(r *http.Request, defaultScheme string) Origin {
	scheme := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))
	if scheme == "" {
		scheme = defaultScheme
	}
	host := strings.TrimSpace(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	return Origin{Scheme: scheme, Host: host}
}

// PublishedAsset records where an upload was stored and how the outside
// world reaches it.
type PublishedAsset struct {
	Name        string
	StoragePath string
	PublicURL   string
	CreatedAt   time.Time
}

// Publisher writes validated uploads into the serving directory.
type Publisher struct {
	dir    string
	logger *zap.Logger
}

// NewPublisher ensures the upload directory exists.
func NewPublisher(dir string, logger *zap.Logger) (*Publisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &Publisher{dir: dir, logger: logger.Named("publisher")}, nil
}

// Publish stores the bytes under a fresh opaque name and derives the public
// URL an external fetcher must use. The extension always comes from the
// sniffed format, never from the client's filename.
func (p *Publisher) Publish(data []byte, format imagecheck.Format, origin Origin) (*PublishedAsset, error) {
	now := time.Now().UTC()
	name := fmt.Sprintf("%s-%s.%s", now.Format("20060102T150405"), uuid.NewString(), format.Extension())
	path := filepath.Join(p.dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	asset := &PublishedAsset{
		Name:        name,
		StoragePath: path,
		PublicURL:   fmt.Sprintf("%s://%s/uploads/%s", origin.Scheme, origin.Host, name),
		CreatedAt:   now,
	}
	p.logger.Debug("published asset",
		zap.String("name", name),
		zap.Int("bytes", len(data)))
	return asset, nil
}
