package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type memorySink struct {
	bucket      string
	object      string
	contentType string
	metadata    map[string]string
	body        []byte
	err         error
}

func (s *memorySink) Put(_ context.Context, bucket, object, contentType string, metadata map[string]string, body io.Reader) error {
	if s.err != nil {
		return s.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.bucket, s.object, s.contentType, s.metadata, s.body = bucket, object, contentType, metadata, data
	return nil
}

func newTestArchive(t *testing.T, sink objectSink) *LabelArchive {
	t.Helper()
	now := time.Date(2025, 4, 2, 10, 30, 0, 0, time.UTC)
	archive, err := NewLabelArchive(nil, "vv-labels", withSink(sink), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewLabelArchive: %v", err)
	}
	return archive
}

func TestArchiveLabelCopiesIntoBucket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf; charset=binary")
		_, _ = w.Write([]byte("%PDF-1.4 label"))
	}))
	defer srv.Close()

	sink := &memorySink{}
	url, err := newTestArchive(t, sink).ArchiveLabel(context.Background(), "ord_42", srv.URL+"/label.pdf")
	if err != nil {
		t.Fatalf("ArchiveLabel: %v", err)
	}
	if expected := "https://storage.googleapis.com/vv-labels/orders/ord_42/labels/20250402T103000Z.pdf"; url != expected {
		t.Fatalf("expected %s, got %s", expected, url)
	}
	if sink.bucket != "vv-labels" || sink.contentType != "application/pdf" {
		t.Fatalf("unexpected object attrs bucket=%s type=%s", sink.bucket, sink.contentType)
	}
	if !bytes.Equal(sink.body, []byte("%PDF-1.4 label")) {
		t.Fatalf("unexpected body %q", sink.body)
	}
	if sink.metadata["orderId"] != "ord_42" {
		t.Fatalf("expected order metadata, got %v", sink.metadata)
	}
}

func TestArchiveLabelRejectsFailedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sink := &memorySink{}
	if _, err := newTestArchive(t, sink).ArchiveLabel(context.Background(), "ord_42", srv.URL); err == nil {
		t.Fatalf("expected error for forbidden label")
	}
	if sink.object != "" {
		t.Fatalf("expected nothing written, got %s", sink.object)
	}
}

func TestArchiveLabelRejectsOversizedLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.(http.Flusher).Flush()
		_, _ = io.Copy(w, strings.NewReader(strings.Repeat("x", maxLabelBytes+10)))
	}))
	defer srv.Close()

	_, err := newTestArchive(t, &memorySink{}).ArchiveLabel(context.Background(), "ord_42", srv.URL)
	if !errors.Is(err, ErrLabelTooLarge) {
		t.Fatalf("expected ErrLabelTooLarge, got %v", err)
	}
}

func TestArchiveLabelWrapsSinkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("label"))
	}))
	defer srv.Close()

	_, err := newTestArchive(t, &memorySink{err: errors.New("bucket missing")}).ArchiveLabel(context.Background(), "ord_42", srv.URL)
	if err == nil || !strings.Contains(err.Error(), "bucket missing") {
		t.Fatalf("expected wrapped sink error, got %v", err)
	}
}

func TestNewLabelArchiveValidation(t *testing.T) {
	if _, err := NewLabelArchive(nil, "bucket"); err == nil {
		t.Fatalf("expected error without client")
	}
	if _, err := NewLabelArchive(nil, " ", withSink(&memorySink{})); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
