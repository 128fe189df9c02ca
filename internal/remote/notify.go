package remote

import (
	"context"
	"net/url"
	"strings"

	"log/slog"
)

// ChangeEvent identifies a source object that was created, updated, or
// removed, as reported by the store's bucket notification stream.
type ChangeEvent struct {
	Key     string
	Removed bool
}

// WatchSource subscribes to bucket notifications for the source prefix
// and converts them into ChangeEvents until ctx is cancelled. The
// returned channel is closed when the subscription ends; the consumer
// (the synchronizer's debouncer) decides how bursts are coalesced.
//
// Notification delivery is best effort; missed or malformed events are
// corrected by the periodic full sync.
func (s *MinioStore) WatchSource(ctx context.Context) <-chan ChangeEvent {
	out := make(chan ChangeEvent, 256)
	go func() {
		defer close(out)
		events := s.client.ListenBucketNotification(ctx, s.bucket, s.sourcePrefix, "", []string{
			"s3:ObjectCreated:*",
			"s3:ObjectRemoved:*",
		})
		for info := range events {
			if info.Err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("remote: notification stream error",
					slog.String("error", info.Err.Error()))
				continue
			}
			for _, rec := range info.Records {
				// Object keys arrive URL-encoded in S3 event records.
				key, err := url.QueryUnescape(rec.S3.Object.Key)
				if err != nil {
					key = rec.S3.Object.Key
				}
				if strings.HasSuffix(key, "/") {
					continue
				}
				ev := ChangeEvent{
					Key:     key,
					Removed: strings.HasPrefix(rec.EventName, "s3:ObjectRemoved"),
				}
				s.InvalidateSourceCache()
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
