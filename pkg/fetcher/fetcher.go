package fetcher

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/log"
	"github.com/stevedore-io/stevedore/pkg/types"
)

// Fetcher retrieves task artifacts into a sandbox directory before launch
type Fetcher interface {
	Fetch(ctx context.Context, uris []*types.ArtifactURI, dir string) error
}

// Local fetches artifacts over http(s) or copies them from the local
// filesystem. Downloads are retried with exponential backoff; archives with a
// .tar.gz/.tgz suffix are unpacked into the sandbox when requested.
type Local struct {
	client *http.Client
	logger zerolog.Logger
}

// NewLocal creates a fetcher with a default HTTP client
func NewLocal() *Local {
	return &Local{
		client: &http.Client{Timeout: 5 * time.Minute},
		logger: log.WithComponent("fetcher"),
	}
}

// Fetch retrieves every URI into dir, in order. The first failure aborts the
// whole fetch.
func (l *Local) Fetch(ctx context.Context, uris []*types.ArtifactURI, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	for _, uri := range uris {
		dest, err := l.fetchOne(ctx, uri, dir)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", uri.Value, err)
		}

		if uri.Executable {
			if err := os.Chmod(dest, 0o755); err != nil {
				return fmt.Errorf("failed to chmod %s: %w", dest, err)
			}
		}
		if uri.Extract && isArchive(dest) {
			if err := extractTarGz(dest, dir); err != nil {
				return fmt.Errorf("failed to extract %s: %w", dest, err)
			}
		}
		l.logger.Debug().Str("uri", uri.Value).Str("dest", dest).Msg("artifact fetched")
	}
	return nil
}

func (l *Local) fetchOne(ctx context.Context, uri *types.ArtifactURI, dir string) (string, error) {
	parsed, err := url.Parse(uri.Value)
	if err != nil {
		return "", fmt.Errorf("invalid artifact URI: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		return l.download(ctx, uri.Value, dir)
	case "file":
		return copyFile(parsed.Path, dir)
	case "":
		return copyFile(uri.Value, dir)
	default:
		return "", fmt.Errorf("unsupported artifact scheme %q", parsed.Scheme)
	}
}

func (l *Local) download(ctx context.Context, rawURL, dir string) (string, error) {
	dest := filepath.Join(dir, path.Base(rawURL))

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("server returned %s", resp.Status))
		}

		f, err := os.Create(dest)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()

		if _, err := io.Copy(f, resp.Body); err != nil {
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return "", err
	}
	return dest, nil
}

func copyFile(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dest := filepath.Join(dir, filepath.Base(src))
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", err
	}
	return dest, nil
}

func isArchive(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz")
}

func extractTarGz(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		// Reject entries escaping the sandbox
		dest := filepath.Join(dir, filepath.Clean("/"+hdr.Name))
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) && dest != filepath.Clean(dir) {
			return fmt.Errorf("archive entry %q escapes the sandbox", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
