// Package storage archives carrier artefacts in Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
)

const (
	defaultLabelContentType = "application/pdf"
	defaultFetchTimeout     = 20 * time.Second
	maxLabelBytes           = 10 << 20
)

// ErrLabelTooLarge is returned when the carrier label exceeds the archive limit.
var ErrLabelTooLarge = errors.New("storage: label exceeds size limit")

// objectSink writes one object. The GCS implementation wraps an ObjectHandle writer.
type objectSink interface {
	Put(ctx context.Context, bucket, object, contentType string, metadata map[string]string, body io.Reader) error
}

type gcsSink struct {
	client *gcs.Client
}

func (s gcsSink) Put(ctx context.Context, bucket, object, contentType string, metadata map[string]string, body io.Reader) error {
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// LabelArchive downloads carrier shipping labels and stores a durable copy,
// since carrier label links expire.
type LabelArchive struct {
	bucket string
	sink   objectSink
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// LabelArchiveOption customises NewLabelArchive.
type LabelArchiveOption func(*LabelArchive)

// WithHTTPClient overrides the client used to download labels.
func WithHTTPClient(client *http.Client) LabelArchiveOption {
	return func(a *LabelArchive) {
		if client != nil {
			a.http = client
		}
	}
}

// WithLogger sets the archive logger.
func WithLogger(logger *zap.Logger) LabelArchiveOption {
	return func(a *LabelArchive) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock injects the clock used for object names.
func WithClock(now func() time.Time) LabelArchiveOption {
	return func(a *LabelArchive) {
		if now != nil {
			a.now = now
		}
	}
}

func withSink(sink objectSink) LabelArchiveOption {
	return func(a *LabelArchive) { a.sink = sink }
}

// NewLabelArchive archives labels into bucket using client.
func NewLabelArchive(client *gcs.Client, bucket string, opts ...LabelArchiveOption) (*LabelArchive, error) {
	archive := &LabelArchive{
		bucket: strings.TrimSpace(bucket),
		http:   &http.Client{Timeout: defaultFetchTimeout},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	if client != nil {
		archive.sink = gcsSink{client: client}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(archive)
		}
	}
	if archive.bucket == "" {
		return nil, errors.New("storage: labels bucket is required")
	}
	if archive.sink == nil {
		return nil, errors.New("storage: cloud storage client is required")
	}
	return archive, nil
}

// ArchiveLabel copies the label at sourceURL under orders/{orderID}/labels/
// and returns the object's https URL.
func (a *LabelArchive) ArchiveLabel(ctx context.Context, orderID string, sourceURL string) (string, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return "", errors.New("storage: label url is required")
	}
	now := a.now().UTC()
	object, err := BuildObjectPath(PurposeShippingLabel, PathParams{OrderID: orderID, At: now})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("storage: build label request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: download label: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("storage: download label: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxLabelBytes {
		return "", ErrLabelTooLarge
	}

	body := &limitedReader{r: resp.Body, remaining: maxLabelBytes}
	metadata := map[string]string{"orderId": orderID, "sourceUrl": sourceURL}
	if err := a.sink.Put(ctx, a.bucket, object, labelContentType(resp.Header.Get("Content-Type")), metadata, body); err != nil {
		if errors.Is(err, ErrLabelTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("storage: write label %s: %w", object, err)
	}

	archived := fmt.Sprintf("https://storage.googleapis.com/%s/%s", a.bucket, object)
	a.logger.Info("label archived", zap.String("orderId", orderID), zap.String("object", object))
	return archived, nil
}

func labelContentType(header string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		return defaultLabelContentType
	}
	return mediaType
}

// limitedReader fails instead of truncating once the limit is crossed.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrLabelTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrLabelTooLarge
	}
	return n, err
}
