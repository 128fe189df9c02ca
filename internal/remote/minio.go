package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ellingard/chartd/internal/ratelimit"
)

// linkContentType marks zero-byte link objects so they are
// distinguishable from folder markers and stray empty files.
const linkContentType = "application/x-chartd-link"

// metaTarget is the user-metadata key carrying a link's source key.
const metaTarget = "Target"

// Options configures the MinIO-backed store.
type Options struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	Bucket       string
	SourcePrefix string // prefix of the shared source collection, e.g. "source/"
	BatchCeiling int    // max items per batch request; default 100
	PageSize     int    // max children per listing page; default 1000
	ListCacheTTL time.Duration
}

// MinioStore implements Store against an S3-compatible object store.
// Folder hierarchy is mapped onto key prefixes: folders are zero-byte
// "<path>/" marker objects, links are zero-byte objects whose user
// metadata holds the target source key.
type MinioStore struct {
	client       *minio.Client
	bucket       string
	sourcePrefix string
	limiter      *ratelimit.Limiter
	logger       *slog.Logger
	batchCeiling int
	pageSize     int

	// TTL cache of the last source listing; bounds redundant full
	// listings when several users reconcile within a short window.
	cacheTTL time.Duration
	cacheMu  sync.Mutex
	cached   []SourceObject
	cachedAt time.Time
}

// Verify MinioStore satisfies Store at compile time.
var _ Store = (*MinioStore)(nil)

// NewMinioStore connects to the object store. Credentials are static
// V4; rotation is handled by whoever produces the configuration.
func NewMinioStore(opts Options, limiter *ratelimit.Limiter, logger *slog.Logger) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: init client: %w", err)
	}
	if opts.BatchCeiling <= 0 {
		opts.BatchCeiling = 100
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	return &MinioStore{
		client:       client,
		bucket:       opts.Bucket,
		sourcePrefix: normalizePrefix(opts.SourcePrefix),
		limiter:      limiter,
		logger:       logger,
		batchCeiling: opts.BatchCeiling,
		pageSize:     opts.PageSize,
		cacheTTL:     opts.ListCacheTTL,
	}, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// ListSource enumerates the shared source collection, serving from the
// TTL cache when the previous listing is still fresh.
func (s *MinioStore) ListSource(ctx context.Context) ([]SourceObject, error) {
	s.cacheMu.Lock()
	if s.cacheTTL > 0 && s.cached != nil && time.Since(s.cachedAt) < s.cacheTTL {
		out := make([]SourceObject, len(s.cached))
		copy(out, s.cached)
		s.cacheMu.Unlock()
		return out, nil
	}
	s.cacheMu.Unlock()

	var out []SourceObject
	err := withRetry(ctx, s.logger, "list source", func() error {
		if err := s.limiter.Acquire(ctx, ratelimit.OpRead); err != nil {
			return err
		}
		listCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		out = out[:0]
		for obj := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
			Prefix:    s.sourcePrefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				return obj.Err
			}
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			out = append(out, SourceObject{
				Key:        obj.Key,
				Name:       path.Base(obj.Key),
				ETag:       obj.ETag,
				Size:       obj.Size,
				ModifiedAt: obj.LastModified,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remote: list source: %w", err)
	}

	s.cacheMu.Lock()
	s.cached = make([]SourceObject, len(out))
	copy(s.cached, out)
	s.cachedAt = time.Now()
	s.cacheMu.Unlock()
	return out, nil
}

// InvalidateSourceCache drops the cached source listing so the next
// ListSource hits the store. Called when a change notification arrives.
func (s *MinioStore) InvalidateSourceCache() {
	s.cacheMu.Lock()
	s.cached = nil
	s.cacheMu.Unlock()
}

// ListChildren returns one page of a folder's direct entries. Link
// targets are resolved via a per-link stat, so this is only used on
// recovery paths, not during routine reconciliation.
func (s *MinioStore) ListChildren(ctx context.Context, folderID, pageToken string) (Page, error) {
	prefix := normalizePrefix(folderID)
	var page Page
	err := withRetry(ctx, s.logger, "list children", func() error {
		if err := s.limiter.Acquire(ctx, ratelimit.OpRead); err != nil {
			return err
		}
		listCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		page = Page{}
		for obj := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
			Prefix:     prefix,
			Recursive:  false,
			StartAfter: pageToken,
		}) {
			if obj.Err != nil {
				return obj.Err
			}
			if obj.Key == prefix {
				continue // the folder's own marker object
			}
			if len(page.Children) == s.pageSize {
				page.NextToken = page.Children[len(page.Children)-1].ID
				return nil
			}
			if strings.HasSuffix(obj.Key, "/") {
				page.Children = append(page.Children, Child{
					ID:       strings.TrimSuffix(obj.Key, "/"),
					Name:     path.Base(strings.TrimSuffix(obj.Key, "/")),
					IsFolder: true,
				})
				continue
			}
			page.Children = append(page.Children, Child{
				ID:     obj.Key,
				Name:   path.Base(obj.Key),
				Target: s.resolveTarget(ctx, obj.Key),
			})
		}
		return nil
	})
	if err != nil {
		return Page{}, fmt.Errorf("remote: list children %s: %w", folderID, err)
	}
	return page, nil
}

// resolveTarget stats a link object and returns its target source key,
// or empty when the object is not a link or the stat fails.
func (s *MinioStore) resolveTarget(ctx context.Context, key string) string {
	if err := s.limiter.Acquire(ctx, ratelimit.OpRead); err != nil {
		return ""
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ""
	}
	return info.UserMetadata[metaTarget]
}

// CreateFolder writes a folder marker object and returns the folder id.
// The write is idempotent: re-creating an existing folder succeeds.
func (s *MinioStore) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	id := normalizePrefix(parentID) + strings.Trim(name, "/")
	err := withRetry(ctx, s.logger, "create folder", func() error {
		if err := s.limiter.Acquire(ctx, ratelimit.OpWrite); err != nil {
			return err
		}
		_, putErr := s.client.PutObject(ctx, s.bucket, id+"/", bytes.NewReader(nil), 0, minio.PutObjectOptions{})
		return putErr
	})
	if err != nil {
		return "", fmt.Errorf("remote: create folder %s: %w", id, err)
	}
	return id, nil
}

// CreateLink writes a link object pointing at targetKey. The target is
// stat-checked first so that files deleted mid-run surface as
// ErrTargetVanished instead of dangling links.
func (s *MinioStore) CreateLink(ctx context.Context, parentID, targetKey string) (string, error) {
	err := withRetry(ctx, s.logger, "stat target", func() error {
		if err := s.limiter.Acquire(ctx, ratelimit.OpRead); err != nil {
			return err
		}
		_, statErr := s.client.StatObject(ctx, s.bucket, targetKey, minio.StatObjectOptions{})
		return statErr
	})
	if err != nil {
		var pe *PermanentError
		if errors.As(err, &pe) && isNotFound(pe.Err) {
			return "", fmt.Errorf("%w: %s", ErrTargetVanished, targetKey)
		}
		return "", fmt.Errorf("remote: stat target %s: %w", targetKey, err)
	}

	linkID := normalizePrefix(parentID) + LinkName(targetKey)
	err = withRetry(ctx, s.logger, "create link", func() error {
		if err := s.limiter.Acquire(ctx, ratelimit.OpWrite); err != nil {
			return err
		}
		_, putErr := s.client.PutObject(ctx, s.bucket, linkID, bytes.NewReader(nil), 0, minio.PutObjectOptions{
			ContentType:  linkContentType,
			UserMetadata: map[string]string{metaTarget: targetKey},
		})
		return putErr
	})
	if err != nil {
		return "", fmt.Errorf("remote: create link %s: %w", linkID, err)
	}
	return linkID, nil
}

// BatchCreateLinks creates links for every target key, chunked to the
// per-request ceiling. Failures are reported per item.
func (s *MinioStore) BatchCreateLinks(ctx context.Context, parentID string, targetKeys []string) []BatchResult {
	results := make([]BatchResult, 0, len(targetKeys))
	for start := 0; start < len(targetKeys); start += s.batchCeiling {
		end := start + s.batchCeiling
		if end > len(targetKeys) {
			end = len(targetKeys)
		}
		for _, target := range targetKeys[start:end] {
			id, err := s.CreateLink(ctx, parentID, target)
			results = append(results, BatchResult{TargetKey: target, LinkID: id, Err: err})
			if ctx.Err() != nil {
				return results
			}
		}
	}
	return results
}

// StatLink reports whether the link object exists.
func (s *MinioStore) StatLink(ctx context.Context, linkID string) (bool, error) {
	var exists bool
	err := withRetry(ctx, s.logger, "stat link", func() error {
		if err := s.limiter.Acquire(ctx, ratelimit.OpRead); err != nil {
			return err
		}
		_, statErr := s.client.StatObject(ctx, s.bucket, linkID, minio.StatObjectOptions{})
		if statErr != nil {
			if isNotFound(statErr) {
				exists = false
				return nil
			}
			return statErr
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remote: stat link %s: %w", linkID, err)
	}
	return exists, nil
}

// DeleteLink removes a link object. Removing an absent object succeeds,
// which keeps deletions idempotent under retry.
func (s *MinioStore) DeleteLink(ctx context.Context, linkID string) error {
	err := withRetry(ctx, s.logger, "delete link", func() error {
		if err := s.limiter.Acquire(ctx, ratelimit.OpWrite); err != nil {
			return err
		}
		return s.client.RemoveObject(ctx, s.bucket, linkID, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("remote: delete link %s: %w", linkID, err)
	}
	return nil
}
