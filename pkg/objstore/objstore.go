// Package objstore is a filesystem object store that hands out
// time-limited, HMAC-signed download URLs.
package objstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jdziat/logqueue/pkg/security"
)

var (
	// ErrObjectExists is returned by Upload without overwrite when the path is taken.
	ErrObjectExists = errors.New("objstore: object already exists")
	// ErrInvalidPath is returned for bucket or object paths that escape the root.
	ErrInvalidPath = errors.New("objstore: invalid object path")
	// ErrInvalidSignature is returned for tampered or expired URLs.
	ErrInvalidSignature = errors.New("objstore: invalid or expired signature")
)

// RoutePrefix is the URL path under which objects are served.
const RoutePrefix = "/objects/"

// Local stores objects under Root as <bucket>/<path>.
type Local struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewLocal creates the root directory if needed. baseURL is the externally
// reachable address that serves Handler, e.g. "http://localhost:8080".
func NewLocal(root, baseURL string, secret []byte) (*Local, error) {
	if len(secret) == 0 {
		return nil, errors.New("objstore: signing secret is empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("objstore: create root: %w", err)
	}
	return &Local{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  append([]byte(nil), secret...),
		now:     time.Now,
	}, nil
}

// objectKey validates bucket and p and returns "<bucket>/<clean path>".
func objectKey(bucket, p string) (string, error) {
	if security.ValidateQueueName(bucket) != nil {
		return "", ErrInvalidPath
	}
	clean := path.Clean("/" + p)[1:]
	if clean == "" || clean != strings.TrimPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	return bucket + "/" + clean, nil
}

// Upload streams body to bucket/p. Without overwrite an existing object
// fails with ErrObjectExists. A failed copy removes the partial object.
// The local store does not keep content types.
func (l *Local) Upload(ctx context.Context, bucket, p string, body io.Reader, contentType string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := objectKey(bucket, p)
	if err != nil {
		return err
	}
	full := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("objstore: upload %s: %w", key, err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(full, flags, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("objstore: upload %s: %w", key, ErrObjectExists)
		}
		return fmt.Errorf("objstore: upload %s: %w", key, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		_ = os.Remove(full)
		return fmt.Errorf("objstore: upload %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("objstore: upload %s: %w", key, err)
	}
	return nil
}

// SignedURL returns a download URL for bucket/p valid for ttl.
func (l *Local) SignedURL(ctx context.Context, bucket, p string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := objectKey(bucket, p)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(key))); err != nil {
		return "", fmt.Errorf("objstore: sign %s: %w", key, err)
	}

	expires := strconv.FormatInt(l.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", l.sign(key, expires))
	return l.baseURL + RoutePrefix + escapePath(key) + "?" + q.Encode(), nil
}

func (l *Local) sign(key, expires string) string {
	mac := hmac.New(sha256.New, l.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature and expiry of a request for key.
func (l *Local) Verify(key, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || l.now().Unix() > exp {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(sig), []byte(l.sign(key, expires))) {
		return ErrInvalidSignature
	}
	return nil
}

// Handler serves GET requests for signed URLs.
func (l *Local) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest, ok := strings.CutPrefix(r.URL.Path, RoutePrefix)
		if !ok {
			http.NotFound(w, r)
			return
		}
		bucket, p, _ := strings.Cut(rest, "/")
		key, err := objectKey(bucket, p)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q := r.URL.Query()
		if err := l.Verify(key, q.Get("expires"), q.Get("sig")); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}

		f, err := os.Open(filepath.Join(l.root, filepath.FromSlash(key)))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
	})
}

func escapePath(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
