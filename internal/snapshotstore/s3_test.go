package snapshotstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/daniacca/membranedb/internal/psystem"
)

// fakeS3 serves the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    http.Header
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func response(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
		}
		b.WriteString("</ListBucketResult>")
		return response(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}}), nil
	}

	switch req.Method {
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		meta := http.Header{}
		for name, values := range req.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
				meta[name] = values
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: meta}
		return response(http.StatusOK, nil, http.Header{"Etag": {`"etag"`}}), nil

	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			body := `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`
			return response(http.StatusNotFound, []byte(body), http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return response(http.StatusOK, obj.body, http.Header{
			"Content-Type":   {obj.contentType},
			"Content-Length": {fmt.Sprintf("%d", len(obj.body))},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}), nil

	case http.MethodDelete:
		delete(f.objects, key)
		return response(http.StatusNoContent, nil, nil), nil
	}
	return response(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeS3) object(key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

func newTestS3Store(t *testing.T, fake *fakeS3, format Format) *S3Store {
	t.Helper()
	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "membranes",
		Region:          "eu-west-1",
		Endpoint:        "https://mock.s3.local",
		Prefix:          "snapshots/",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		Format:          format,
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
	})
	if err != nil {
		t.Fatalf("Failed to create S3 store: %v", err)
	}
	return store
}

func TestS3Store_SaveLoad(t *testing.T) {
	sys, snap := sampleSnapshot(t)
	fake := newFakeS3()
	store := newTestS3Store(t, fake, FormatCBOR)
	ctx := context.Background()

	if err := store.Save(ctx, "env-1", snap); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	obj, ok := fake.object("snapshots/env-1.cbor")
	if !ok {
		t.Fatal("Expected object under the configured prefix")
	}
	if obj.contentType != "application/cbor" {
		t.Errorf("Expected content type application/cbor, got %s", obj.contentType)
	}
	if obj.metadata.Get("X-Amz-Meta-System") != "store" {
		t.Errorf("Expected system metadata, got %v", obj.metadata)
	}

	loaded, err := store.Load(ctx, "env-1")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	cfg, err := psystem.RestoreConfiguration(loaded, sys)
	if err != nil {
		t.Fatalf("Failed to restore: %v", err)
	}
	if cfg.Step() != 1 {
		t.Errorf("Expected step 1, got %d", cfg.Step())
	}
}

func TestS3Store_NotFoundListDelete(t *testing.T) {
	_, snap := sampleSnapshot(t)
	fake := newFakeS3()
	store := newTestS3Store(t, fake, FormatJSON)
	ctx := context.Background()

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	store.Save(ctx, "b", snap)
	store.Save(ctx, "a", snap)

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("Expected [a b], got %v", ids)
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, ok := fake.object("snapshots/a.json"); ok {
		t.Error("Expected object to be deleted")
	}
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Config{}); err == nil {
		t.Error("Expected error without bucket")
	}
}
