package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/anicoll/bqloader"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
)

// BucketOpener opens the bucket named by a gocloud bucket URL such as gs://bucket.
type BucketOpener func(ctx context.Context, bucketURL string) (*blob.Bucket, error)

// Checker reports whether source objects exist in object storage.
// Buckets are opened once and reused; Close releases them.
type Checker struct {
	open BucketOpener

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// NewChecker creates a Checker that opens buckets with blob.OpenBucket.
// Uses Application Default Credentials for gs:// buckets.
func NewChecker() *Checker {
	return NewCheckerWithOpener(blob.OpenBucket)
}

// NewCheckerWithOpener creates a Checker that opens buckets with open.
func NewCheckerWithOpener(open BucketOpener) *Checker {
	return &Checker{
		open:    open,
		buckets: make(map[string]*blob.Bucket),
	}
}

// Exists returns true if the object named by uri exists.
func (c *Checker) Exists(ctx context.Context, uri string) (bool, error) {
	bucketURL, key, err := splitURI(uri)
	if err != nil {
		return false, err
	}

	bucket, err := c.bucket(ctx, bucketURL)
	if err != nil {
		return false, err
	}

	exists, err := bucket.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", uri, err)
	}
	return exists, nil
}

func (c *Checker) bucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.buckets[bucketURL]; ok {
		return b, nil
	}
	b, err := c.open(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}
	c.buckets[bucketURL] = b
	return b, nil
}

// Close closes every bucket opened so far.
func (c *Checker) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for u, b := range c.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close bucket %s: %w", u, err))
		}
		delete(c.buckets, u)
	}
	return errors.Join(errs...)
}

// splitURI turns scheme://bucket/key into a bucket URL and an object key.
// file:// URIs have no bucket name: the parent directory is the bucket.
func splitURI(uri string) (string, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid source uri %q: %w", uri, err)
	}
	if u.Scheme == "" {
		return "", "", fmt.Errorf("invalid source uri %q: missing scheme", uri)
	}

	if u.Scheme == "file" {
		dir, key := path.Split(u.Path)
		if key == "" {
			return "", "", fmt.Errorf("invalid source uri %q: missing object name", uri)
		}
		return "file://" + dir, key, nil
	}

	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid source uri %q: want %s://bucket/object", uri, u.Scheme)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), key, nil
}

// Assert that Checker implements SourceChecker.
var _ bqloader.SourceChecker = (*Checker)(nil)
