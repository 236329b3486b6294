package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUpstream struct {
	calls atomic.Int32
	gate  chan struct{} // when non-nil, Resolve blocks until closed
	err   error
	url   string
	ttl   int
}

func (s *stubUpstream) Resolve(ctx context.Context, reference string) (*Resolution, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Resolution{Reference: reference, ResolvedURL: s.url, TTLSeconds: s.ttl}, nil
}

func TestResolvePassThrough(t *testing.T) {
	up := &stubUpstream{url: "https://signed.example/x"}
	svc := NewService(up, slog.Default())

	url, err := svc.Resolve(context.Background(), "https://plain.example/img.png")
	require.NoError(t, err)
	assert.Equal(t, "https://plain.example/img.png", url)
	assert.Equal(t, int32(0), up.calls.Load(), "pass-through must not hit the upstream")
}

func TestResolveCachesWithinTTL(t *testing.T) {
	up := &stubUpstream{url: "https://signed.example/a", ttl: 3600}
	svc := NewService(up, slog.Default())

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	svc.now = func() time.Time { return now }

	url, err := svc.Resolve(context.Background(), "storage://bucket/a")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/a", url)
	require.Equal(t, int32(1), up.calls.Load())

	// Well inside the validity window: cache hit, no upstream call.
	now = t0.Add(3000 * time.Second)
	url, err = svc.Resolve(context.Background(), "storage://bucket/a")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/a", url)
	assert.Equal(t, int32(1), up.calls.Load())

	// Past the window: fresh resolution.
	now = t0.Add(3601 * time.Second)
	_, err = svc.Resolve(context.Background(), "storage://bucket/a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestResolveSafetyMargin(t *testing.T) {
	up := &stubUpstream{url: "https://signed.example/a", ttl: 3600}
	svc := NewService(up, slog.Default())

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	svc.now = func() time.Time { return now }

	_, err := svc.Resolve(context.Background(), "storage://bucket/a")
	require.NoError(t, err)

	// Still within raw TTL but inside the 60s safety margin: re-resolve so
	// the returned URL cannot expire mid-download.
	now = t0.Add(3570 * time.Second)
	_, err = svc.Resolve(context.Background(), "storage://bucket/a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestResolveSingleFlight(t *testing.T) {
	up := &stubUpstream{url: "https://signed.example/shared", ttl: 3600, gate: make(chan struct{})}
	svc := NewService(up, slog.Default())

	const callers = 10
	urls := make([]string, callers)
	errs := make([]error, callers)

	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			started.Done()
			defer done.Done()
			urls[i], errs[i] = svc.Resolve(context.Background(), "storage://bucket/shared")
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond) // let every caller reach the flight
	close(up.gate)
	done.Wait()

	assert.Equal(t, int32(1), up.calls.Load(), "concurrent callers must share one upstream call")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "https://signed.example/shared", urls[i])
	}
}

func TestResolveFailurePropagatesAndLeavesNoEntry(t *testing.T) {
	up := &stubUpstream{err: errors.New("boom")}
	svc := NewService(up, slog.Default())

	_, err := svc.Resolve(context.Background(), "storage://bucket/x")
	require.Error(t, err)
	assert.Equal(t, 0, svc.Len(), "no negative caching")

	// Next call retries rather than serving a cached failure.
	up.err = nil
	up.url = "https://signed.example/x"
	up.ttl = 60 + 1 // barely outlives the safety margin
	url, err := svc.Resolve(context.Background(), "storage://bucket/x")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/x", url)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestInvalidateRemovesEntry(t *testing.T) {
	up := &stubUpstream{url: "https://signed.example/a", ttl: 3600}
	svc := NewService(up, slog.Default())

	_, err := svc.Resolve(context.Background(), "storage://bucket/a")
	require.NoError(t, err)
	require.Equal(t, 1, svc.Len())

	svc.Invalidate("storage://bucket/a")
	assert.Equal(t, 0, svc.Len())

	_, err = svc.Resolve(context.Background(), "storage://bucket/a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestReset(t *testing.T) {
	up := &stubUpstream{url: "https://signed.example/a", ttl: 3600}
	svc := NewService(up, slog.Default())

	_, _ = svc.Resolve(context.Background(), "storage://bucket/a")
	_, _ = svc.Resolve(context.Background(), "storage://bucket/b")
	require.Equal(t, 2, svc.Len())

	svc.Reset()
	assert.Equal(t, 0, svc.Len())
}

func TestResolveCallerCancellation(t *testing.T) {
	up := &stubUpstream{url: "https://signed.example/a", ttl: 3600, gate: make(chan struct{})}
	svc := NewService(up, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := svc.Resolve(ctx, "storage://bucket/a")
	require.ErrorIs(t, err, context.Canceled)

	// The flight itself was not cancelled: once it lands, its result is
	// cached for later callers.
	close(up.gate)
	require.Eventually(t, func() bool { return svc.Len() == 1 },
		time.Second, 10*time.Millisecond)
}
