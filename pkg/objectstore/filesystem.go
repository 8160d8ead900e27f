package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// FilesystemStore is an object store rooted at a local directory. Objects are
// addressed by slash-separated paths; signed URLs carry an HMAC token so a
// holder can download the object without any other credentials.
type FilesystemStore struct {
	dir    string
	secret []byte
}

func NewFilesystemStore(dir string, secret string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create object store directory: %s", dir)
	}
	return &FilesystemStore{dir: dir, secret: []byte(secret)}, nil
}

func (s *FilesystemStore) resolve(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", errors.Errorf("invalid object path: %s", path)
	}
	return filepath.Join(s.dir, cleaned), nil
}

func (s *FilesystemStore) Upload(_ context.Context, path string, r io.Reader) (int64, error) {
	dest, err := s.resolve(path)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, errors.WithStack(err)
	}

	// Write to a temp file and rename so a reader never sees a partial
	// object.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.WithStack(err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, errors.WithStack(err)
	}

	return size, nil
}

func (s *FilesystemStore) Download(_ context.Context, path string) (io.ReadCloser, error) {
	src, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("object not found: %s", path)
		}
		return nil, errors.WithStack(err)
	}
	return f, nil
}

func (s *FilesystemStore) Delete(_ context.Context, path string) error {
	dest, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

// SignedURL returns a relative URL with an expiry and an HMAC signature over
// the path and expiry. VerifySignature checks the token on download.
func (s *FilesystemStore) SignedURL(path string, expiresIn time.Duration) (string, error) {
	if _, err := s.resolve(path); err != nil {
		return "", err
	}

	expires := time.Now().Add(expiresIn).Unix()
	sig := s.sign(path, expires)

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", sig)

	return fmt.Sprintf("/objects/%s?%s", path, q.Encode()), nil
}

// VerifySignature checks a signed URL token. It returns false for a bad
// signature or an expired token.
func (s *FilesystemStore) VerifySignature(path string, expires int64, sig string) bool {
	if time.Now().Unix() > expires {
		return false
	}
	expected := s.sign(path, expires)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (s *FilesystemStore) sign(path string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
