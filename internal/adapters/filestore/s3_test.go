package filestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var deleteKey = regexp.MustCompile(`<Key>([^<]+)</Key>`)

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/uploads")
	key = strings.TrimPrefix(key, "/")
	q := r.URL.Query()

	switch {
	case r.Method == http.MethodPut && key != "":
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key != "":
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	case r.Method == http.MethodGet && q.Get("list-type") == "2":
		prefix := q.Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		fmt.Fprintf(&b, `<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>uploads</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>`, prefix, len(keys))
		for _, k := range keys {
			fmt.Fprintf(&b, `<Contents><Key>%s</Key><Size>%d</Size></Contents>`, k, len(f.objects[k]))
		}
		b.WriteString(`</ListBucketResult>`)
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, b.String())
	case r.Method == http.MethodPost && q.Has("delete"):
		body, _ := io.ReadAll(r.Body)
		for _, m := range deleteKey.FindAllStringSubmatch(string(body), -1) {
			delete(f.objects, m[1])
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></DeleteResult>`)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestS3_SaveOpenDelete(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	ctx := context.Background()
	store, err := NewS3(ctx, S3Config{
		Bucket:          "uploads",
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Endpoint:        server.URL,
	})
	require.NoError(t, err)

	ref, err := store.Save(ctx, "inspections/b1/a.png", strings.NewReader("png-bytes"), "image/png")
	require.NoError(t, err)
	_, err = store.Save(ctx, "inspections/b2/c.png", strings.NewReader("other"), "image/png")
	require.NoError(t, err)

	rc, err := store.Open(ctx, ref)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, store.DeletePrefix(ctx, "inspections/b1/"))
	fake.mu.Lock()
	assert.NotContains(t, fake.objects, "inspections/b1/a.png")
	assert.Contains(t, fake.objects, "inspections/b2/c.png")
	fake.mu.Unlock()

	_, err = store.Open(ctx, ref)
	assert.Error(t, err)
}
