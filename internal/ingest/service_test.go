package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/store/memory"
)

type fakeSource struct {
	mu       sync.Mutex
	pages    map[Phase][][]string
	failures map[string]int
	calls    map[string]int
	fetch    func(ctx context.Context, phase Phase, page int) (*Page, error)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: map[Phase][][]string{
			PhaseProfiles: {{`{"id":"sp-1","name":"Gold"}`, `{"id":"sp-2","name":"Silver"}`}},
			PhaseGroups:   {{`{"id":"g-1","name":"North"}`}},
			PhaseZones:    {{`{"id":"z-1","name":"Downtown"}`}},
			PhaseUsers: {
				{`{"id":"u-1","username":"alice","profile_id":"sp-1","group_id":"g-1","enabled":true}`},
				{`{"id":"u-2","username":"bob","profile_id":"sp-2","enabled":true}`, `{"username":"no-id"}`},
			},
			PhaseNAS: {{`{"id":"n-1","name":"core","ip_address":"10.0.0.1","type":"mikrotik"}`}},
		},
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeSource) FetchPage(ctx context.Context, phase Phase, page int) (*Page, error) {
	if f.fetch != nil {
		return f.fetch(ctx, phase, page)
	}
	key := fmt.Sprintf("%s/%d", phase, page)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if f.failures[key] > 0 {
		f.failures[key]--
		return nil, errors.New("upstream unavailable")
	}

	pages := f.pages[phase]
	p := &Page{Page: page, TotalPages: len(pages)}
	if page <= len(pages) {
		for _, item := range pages[page-1] {
			p.Items = append(p.Items, json.RawMessage(item))
		}
	}
	return p, nil
}

// recordingStore checks that saved percentages never go down.
type recordingStore struct {
	*MemoryStore
	t    *testing.T
	mu   sync.Mutex
	last map[string]float64
}

func (r *recordingStore) SaveProgress(ctx context.Context, p *Progress) error {
	r.mu.Lock()
	assert.GreaterOrEqual(r.t, p.Percentage, r.last[p.ID], "percentage went backwards")
	r.last[p.ID] = p.Percentage
	r.mu.Unlock()
	return r.MemoryStore.SaveProgress(ctx, p)
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) PublishEvent(_ context.Context, topic, _ string, _ interface{}) error {
	f.mu.Lock()
	f.topics = append(f.topics, topic)
	f.mu.Unlock()
	return nil
}

func newTestService(t *testing.T, src Source) (*Service, *memory.Store, *fakePublisher) {
	store := memory.New()
	pub := &fakePublisher{}
	progress := &recordingStore{MemoryStore: NewMemoryStore(), t: t, last: make(map[string]float64)}
	svc := NewService(src, store.Subscribers(), progress, pub, config.SyncConfig{MaxPageRetries: 3}, nil, logger.New("test"))
	svc.retryDelay = time.Millisecond
	return svc, store, pub
}

func TestRunSyncsAllPhases(t *testing.T) {
	svc, store, pub := newTestService(t, newFakeSource())
	ctx := context.Background()

	p, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, PhaseCompleted, p.Phase)
	assert.Equal(t, 100.0, p.Percentage)
	assert.Equal(t, 7, p.NewCount)
	assert.Equal(t, 0, p.UpdatedCount)
	assert.Equal(t, 1, p.FailedCount)
	assert.Equal(t, 2, p.Phases[PhaseUsers].TotalPages)
	assert.Equal(t, 1, p.Phases[PhaseUsers].Failed)
	require.NotNil(t, p.FinishedAt)

	sub, err := store.Subscribers().GetSubscriber(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", sub.Username)
	assert.Equal(t, "sp-1", sub.ProfileID)

	assert.NotEmpty(t, pub.topics)
	for _, topic := range pub.topics {
		assert.Equal(t, TopicSyncProgress, topic)
	}

	again, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.NewCount)
	assert.Equal(t, 7, again.UpdatedCount)

	latest, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, again.ID, latest.ID)
}

func TestRunRetriesPages(t *testing.T) {
	src := newFakeSource()
	src.failures["zones/1"] = 2
	svc, _, _ := newTestService(t, src)

	p, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 3, src.calls["zones/1"])
}

func TestRunFailsAfterRetryBound(t *testing.T) {
	src := newFakeSource()
	src.failures["users/2"] = 10
	svc, _, _ := newTestService(t, src)

	p, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, PhaseUsers, p.Phase)
	assert.Contains(t, p.Error, "users page 2")
	assert.Equal(t, 3, src.calls["users/2"])
	assert.Less(t, p.Percentage, 100.0)
	assert.Equal(t, 1, p.Phases[PhaseUsers].CurrentPage)

	stored, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestStartAndCancel(t *testing.T) {
	entered := make(chan struct{})
	base := newFakeSource()
	src := &fakeSource{fetch: func(ctx context.Context, phase Phase, page int) (*Page, error) {
		if phase == PhaseGroups {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return base.FetchPage(ctx, phase, page)
	}}
	svc, _, _ := newTestService(t, src)
	ctx := context.Background()

	p, err := svc.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, p.Status)

	<-entered
	_, err = svc.Start(ctx)
	assert.True(t, errors.Is(err, ErrRunInProgress))

	cancelled, err := svc.Cancel(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, 20.0, cancelled.Percentage)

	_, err = svc.Cancel(ctx, p.ID)
	assert.True(t, errors.Is(err, ErrNotRunning))
	_, err = svc.Cancel(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestHTTPSourceFetchPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/users", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("page_size"))
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		if r.URL.Query().Get("page") != "2" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[{"id":"u-1"}],"page":2,"total_pages":3}`)
	}))
	defer server.Close()

	src := NewHTTPSource(config.SyncConfig{BaseURL: server.URL + "/", APIKey: "key", PageSize: 50}, server.Client(), logger.New("test"))
	p, err := src.FetchPage(context.Background(), PhaseUsers, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Page)
	assert.Equal(t, 3, p.TotalPages)
	require.Len(t, p.Items, 1)

	_, err = src.FetchPage(context.Background(), PhaseUsers, 1)
	assert.Error(t, err)
}
