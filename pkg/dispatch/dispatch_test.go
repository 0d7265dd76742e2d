package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/logqueue/pkg/auth"
	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/queue"
)

type mockStore struct {
	uploads   int
	signs     int
	uploadErr error
	signURL   string
	signErr   error

	lastBucket    string
	lastPath      string
	lastOverwrite bool
	lastType      string
	lastBody      []byte
}

func (m *mockStore) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string, overwrite bool) error {
	m.uploads++
	m.lastBucket, m.lastPath, m.lastOverwrite, m.lastType = bucket, path, overwrite, contentType
	if m.uploadErr != nil {
		return m.uploadErr
	}
	var head strings.Builder
	_, err := io.Copy(io.Discard, io.TeeReader(body, writerFunc(func(p []byte) (int, error) {
		if head.Len() < 1024 {
			head.Write(p)
		}
		return len(p), nil
	})))
	m.lastBody = []byte(head.String())
	return err
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func (m *mockStore) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	m.signs++
	if m.signErr != nil {
		return "", m.signErr
	}
	return m.signURL, nil
}

type mockQueue struct {
	calls   int
	err     error
	name    string
	payload core.Payload
	opts    *queue.Options
}

func (m *mockQueue) Enqueue(ctx context.Context, name string, payload core.Payload, opts ...queue.Option) (core.JobHandle, error) {
	m.calls++
	m.name, m.payload = name, payload
	m.opts = queue.NewOptions()
	for _, o := range opts {
		o.Apply(m.opts)
	}
	if m.err != nil {
		return core.JobHandle{}, m.err
	}
	return core.JobHandle{ID: "42"}, nil
}

var testUsers = auth.Static{"good": {UserID: "u1", Email: "u1@example.com"}}

func newTestService(store *mockStore, q *mockQueue, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }
	}
	return New(testUsers, store, q, cfg)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func upload(size int) *Upload {
	return &Upload{Filename: "app.log", ContentType: "text/plain", Size: int64(size), Body: io.LimitReader(zeroReader{}, int64(size))}
}

func TestSubmit_Success(t *testing.T) {
	store := &mockStore{signURL: "http://store/objects/x?sig=1"}
	q := &mockQueue{}
	svc := newTestService(store, q, Config{})

	res, err := svc.Submit(context.Background(), "good", upload(2<<20))
	require.NoError(t, err)

	assert.Equal(t, "user-uploads/u1/1700000000123-app.log", res.StoragePath)
	assert.Equal(t, "42", res.JobID)

	assert.Equal(t, "log-files", store.lastBucket)
	assert.False(t, store.lastOverwrite)
	assert.Equal(t, "text/plain", store.lastType)

	assert.Equal(t, core.JobName, q.name)
	assert.Equal(t, core.Payload{
		FileURL:          "http://store/objects/x?sig=1",
		StoragePath:      res.StoragePath,
		BucketName:       "log-files",
		OriginalFilename: "app.log",
		UserID:           "u1",
		Email:            "u1@example.com",
		FileSize:         2 << 20,
	}, q.payload)
	assert.Equal(t, 2, q.opts.Priority)
	assert.Nil(t, q.opts.Retry, "connector default applies")
}

func TestSubmit_ExplicitRetryPolicy(t *testing.T) {
	policy := core.RetryPolicy{Attempts: 5, Backoff: core.Backoff{Type: core.BackoffFixed, Delay: time.Second}}
	q := &mockQueue{}
	svc := newTestService(&mockStore{signURL: "u"}, q, Config{RetryPolicy: &policy})

	_, err := svc.Submit(context.Background(), "good", upload(10))
	require.NoError(t, err)
	require.NotNil(t, q.opts.Retry)
	assert.Equal(t, policy, *q.opts.Retry)
	assert.Equal(t, 1, q.opts.Priority)
}

func TestSubmit_Unauthorized(t *testing.T) {
	for _, cred := range []string{"", "bogus"} {
		store, q := &mockStore{signURL: "u"}, &mockQueue{}
		svc := newTestService(store, q, Config{})

		_, err := svc.Submit(context.Background(), cred, upload(1))
		assert.True(t, core.IsKind(err, core.KindUnauthorized), cred)
		assert.Zero(t, store.uploads)
		assert.Zero(t, q.calls)
	}
}

func TestSubmit_NoFile(t *testing.T) {
	store, q := &mockStore{signURL: "u"}, &mockQueue{}
	svc := newTestService(store, q, Config{})

	_, err := svc.Submit(context.Background(), "good", nil)

	assert.True(t, core.IsKind(err, core.KindBadRequest))
	assert.ErrorIs(t, err, core.ErrMissingFile)
	assert.Zero(t, store.uploads)
	assert.Zero(t, store.signs)
	assert.Zero(t, q.calls)
}

func TestSubmit_BadFilenameAndSize(t *testing.T) {
	store, q := &mockStore{signURL: "u"}, &mockQueue{}
	svc := newTestService(store, q, Config{MaxUploadSize: 8})

	_, err := svc.Submit(context.Background(), "good", &Upload{Filename: "..", Size: 1, Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, core.ErrInvalidFilename)

	_, err = svc.Submit(context.Background(), "good", upload(9))
	assert.ErrorIs(t, err, core.ErrFileTooLarge)
	assert.True(t, core.IsKind(err, core.KindBadRequest))

	assert.Zero(t, store.uploads)
	assert.Zero(t, q.calls)
}

func TestSubmit_StreamsBody(t *testing.T) {
	store, q := &mockStore{signURL: "u"}, &mockQueue{}
	svc := newTestService(store, q, Config{})

	_, err := svc.Submit(context.Background(), "good", &Upload{Filename: "app.log", Size: 8, Body: strings.NewReader("INFO ok\n")})
	require.NoError(t, err)
	assert.Equal(t, "INFO ok\n", string(store.lastBody))
	assert.Equal(t, int64(8), q.payload.FileSize)
}

func TestSubmit_BodyLongerThanDeclared(t *testing.T) {
	store, q := &mockStore{signURL: "u"}, &mockQueue{}
	svc := newTestService(store, q, Config{})

	_, err := svc.Submit(context.Background(), "good", &Upload{Filename: "app.log", Size: 2, Body: strings.NewReader("three")})
	assert.ErrorIs(t, err, core.ErrFileTooLarge)
	assert.True(t, core.IsKind(err, core.KindBadRequest))
	assert.Zero(t, store.signs)
	assert.Zero(t, q.calls)
}

func TestSubmit_SanitizesPathComponent(t *testing.T) {
	store := &mockStore{signURL: "u"}
	q := &mockQueue{}
	svc := newTestService(store, q, Config{})

	res, err := svc.Submit(context.Background(), "good", &Upload{Filename: "../../etc/passwd", Size: 1, Body: strings.NewReader("x")})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.StoragePath, "-passwd"))
	assert.Equal(t, "application/octet-stream", store.lastType)
	assert.Equal(t, "passwd", q.payload.OriginalFilename)
}

func TestSubmit_UploadFailure(t *testing.T) {
	store := &mockStore{uploadErr: errors.New("object already exists")}
	q := &mockQueue{}
	svc := newTestService(store, q, Config{})

	_, err := svc.Submit(context.Background(), "good", upload(1))

	assert.True(t, core.IsKind(err, core.KindStorage))
	assert.Contains(t, err.Error(), "object already exists")
	assert.Zero(t, store.signs)
	assert.Zero(t, q.calls)
}

func TestSubmit_SignFailureDoesNotEnqueue(t *testing.T) {
	for name, store := range map[string]*mockStore{
		"error": {signErr: errors.New("signing key unavailable")},
		"empty": {signURL: ""},
	} {
		t.Run(name, func(t *testing.T) {
			q := &mockQueue{}
			svc := newTestService(store, q, Config{})

			_, err := svc.Submit(context.Background(), "good", upload(1))

			assert.True(t, core.IsKind(err, core.KindStorage))
			assert.Equal(t, 500, core.HTTPStatus(core.KindOf(err)))
			assert.Equal(t, 1, store.uploads)
			assert.Zero(t, q.calls)
		})
	}
}

func TestSubmit_EnqueueFailure(t *testing.T) {
	store := &mockStore{signURL: "u"}
	q := &mockQueue{err: errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")}
	svc := newTestService(store, q, Config{})

	res, err := svc.Submit(context.Background(), "good", upload(1))

	assert.True(t, core.IsKind(err, core.KindQueue))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, res.JobID)
	assert.Equal(t, 1, store.uploads)
	assert.Equal(t, 1, q.calls)
}

func TestSubmit_PriorityFromSize(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{0, 1},
		{1<<20 - 1, 1},
		{1 << 20, 2},
		{50 << 20, 4},
	}
	for _, tt := range tests {
		q := &mockQueue{}
		svc := newTestService(&mockStore{signURL: "u"}, q, Config{})

		_, err := svc.Submit(context.Background(), "good", upload(tt.size))
		require.NoError(t, err)
		assert.Equal(t, tt.want, q.opts.Priority, "size %d", tt.size)
	}
}
