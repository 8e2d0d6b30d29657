package story

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/storysync/internal/api"
	"github.com/kimhsiao/storysync/internal/db"
	apperrors "github.com/kimhsiao/storysync/internal/errors"
	"github.com/kimhsiao/storysync/internal/events"
	"github.com/kimhsiao/storysync/internal/media"
	"github.com/kimhsiao/storysync/internal/models"
	"github.com/kimhsiao/storysync/internal/network"
	"github.com/kimhsiao/storysync/internal/sync/queue"
	"github.com/kimhsiao/storysync/internal/sync/storage"
)

// =====================================================
// Test Helpers
// =====================================================

type fakeService struct {
	mu       sync.Mutex
	list     func(p api.ListParams) (*api.Response, error)
	get      func(id string) (*api.Response, error)
	add      func(up api.Upload) (*api.Response, error)
	uploads  []api.Upload
	addCalls atomic.Int32
	block    chan struct{}
}

func (f *fakeService) ListStories(_ context.Context, p api.ListParams) (*api.Response, error) {
	if f.list == nil {
		return &api.Response{ListStory: []*models.Story{}}, nil
	}
	return f.list(p)
}

func (f *fakeService) GetStory(_ context.Context, id string) (*api.Response, error) {
	if f.get == nil {
		return nil, apperrors.Server(404, "Story not found")
	}
	return f.get(id)
}

func (f *fakeService) AddStory(_ context.Context, up api.Upload) (*api.Response, error) {
	if f.block != nil {
		<-f.block
	}
	f.addCalls.Add(1)
	f.mu.Lock()
	f.uploads = append(f.uploads, up)
	f.mu.Unlock()
	if f.add == nil {
		return &api.Response{Message: "success", Story: &models.Story{ID: "srv-1", Description: up.Description}}, nil
	}
	return f.add(up)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) last(typ events.Type) events.Event {
	all := r.all()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Type() == typ {
			return all[i]
		}
	}
	return nil
}

type testEnv struct {
	db      *db.DB
	repo    *Repository
	svc     *fakeService
	monitor *network.Monitor
	blobs   *storage.BlobStore
	rec     *recorder
}

func setup(t *testing.T, online bool, svc Service) *testEnv {
	t.Helper()
	database, err := db.OpenPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	fake, _ := svc.(*fakeService)
	if svc == nil {
		fake = &fakeService{}
		svc = fake
	}

	bus := events.NewBus()
	rec := &recorder{}
	bus.Subscribe(rec.handle)

	env := &testEnv{
		db:      database,
		svc:     fake,
		monitor: network.NewMonitor(online, bus),
		blobs:   storage.NewBlobStore(t.TempDir()),
		rec:     rec,
	}
	env.repo = New(Deps{
		DB:      database,
		API:     svc,
		Blobs:   env.blobs,
		Monitor: env.monitor,
		Bus:     bus,
	})
	t.Cleanup(env.repo.Close)
	return env
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func remote(id string, created time.Time) *models.Story {
	return &models.Story{ID: id, Name: "Dimas", Description: "story " + id, PhotoURL: "https://cdn.example/" + id + ".jpg", CreatedAt: created}
}

func newStory() models.NewStory {
	return models.NewStory{
		Description: "Trip",
		Photo:       []byte("jpeg-bytes"),
		Lat:         models.Float(1),
		Lon:         models.Float(2),
	}
}

func ids(stories []*models.Story) []string {
	out := make([]string, 0, len(stories))
	for _, s := range stories {
		out = append(out, s.ID)
	}
	return out
}

// =====================================================
// Reads
// =====================================================

func TestListStories_OfflineReturnsCacheNewestFirst(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	require.NoError(t, env.repo.Store().PutMany(ctx, db.Cache, []*models.Story{
		remote("old", base),
		remote("new", base.Add(2*time.Hour)),
		remote("mid", base.Add(time.Hour)),
	}))

	res, err := env.repo.ListStories(ctx, api.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, OfflineMessage, res.Message)
	assert.Equal(t, []string{"new", "mid", "old"}, ids(res.Stories))
}

func TestListStories_OfflineEmptyCache(t *testing.T) {
	env := setup(t, false, nil)

	res, err := env.repo.ListStories(context.Background(), api.ListParams{})
	require.NoError(t, err)
	require.NotNil(t, res.Stories)
	assert.Empty(t, res.Stories)
}

func TestListStories_WriteThroughIsIdempotent(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()
	env.svc.list = func(api.ListParams) (*api.Response, error) {
		return &api.Response{
			Message:   "Stories fetched successfully",
			ListStory: []*models.Story{remote("a", base), remote("b", base.Add(time.Hour))},
		}, nil
	}

	for i := 0; i < 2; i++ {
		res, err := env.repo.ListStories(ctx, api.ListParams{Page: 1, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, SourceNetwork, res.Source)
		assert.Len(t, res.Stories, 2)
	}

	n, err := env.repo.Store().Count(ctx, db.Cache)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListStories_ConnectivityFailureFallsBack(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()
	require.NoError(t, env.repo.Store().Put(ctx, db.Cache, remote("a", base)))
	env.svc.list = func(api.ListParams) (*api.Response, error) {
		return nil, apperrors.Connectivity("GET /stories failed", errors.New("connection refused"))
	}

	res, err := env.repo.ListStories(ctx, api.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, []string{"a"}, ids(res.Stories))
	assert.True(t, env.monitor.IsOnline(), "a failed read does not change the monitor")
}

func TestListStories_ServerErrorIsNotMasked(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()
	require.NoError(t, env.repo.Store().Put(ctx, db.Cache, remote("a", base)))
	env.svc.list = func(api.ListParams) (*api.Response, error) {
		return nil, apperrors.Server(401, "Missing authentication")
	}

	res, err := env.repo.ListStories(ctx, api.ListParams{})
	assert.Nil(t, res)
	assert.True(t, apperrors.IsServer(err))
	assert.Equal(t, "Missing authentication", apperrors.UserMessage(err))
}

func TestGetStory(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()
	env.svc.get = func(id string) (*api.Response, error) {
		return &api.Response{Message: "ok", Story: remote(id, base)}, nil
	}

	res, err := env.repo.GetStory(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.NotNil(t, env.repo.Store().Get(ctx, db.Cache, "a"), "written through")

	env.monitor.Set(false)
	res, err = env.repo.GetStory(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, OfflineMessage, res.Message)

	_, err = env.repo.GetStory(ctx, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = env.repo.GetStory(ctx, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestGetStory_ServerErrorIsNotMasked(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()
	require.NoError(t, env.repo.Store().Put(ctx, db.Cache, remote("a", base)))

	_, err := env.repo.GetStory(ctx, "a")
	assert.True(t, apperrors.IsServer(err))
}

func TestGetStory_TempIDIsServedFromCache(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	added, err := env.repo.AddStory(ctx, newStory(), true)
	require.NoError(t, err)

	env.monitor.Set(true)
	env.svc.get = func(string) (*api.Response, error) {
		t.Fatal("temp ids are never sent to the service")
		return nil, nil
	}
	res, err := env.repo.GetStory(ctx, added.TempID)
	require.NoError(t, err)
	assert.True(t, res.Story.IsPending)
}

// =====================================================
// Writes
// =====================================================

func TestAddStory_Online(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()

	res, err := env.repo.AddStory(ctx, newStory(), false)
	require.NoError(t, err)
	assert.False(t, res.Offline)
	assert.Equal(t, "srv-1", res.Story.ID)
	assert.NotNil(t, env.repo.Store().Get(ctx, db.Cache, "srv-1"))

	require.Len(t, env.svc.uploads, 1)
	assert.False(t, env.svc.uploads[0].UseAuth)
	assert.Empty(t, env.svc.uploads[0].IdempotencyKey)
}

func TestAddStory_OnlineFailureIsNotQueued(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()
	env.svc.add = func(api.Upload) (*api.Response, error) {
		return nil, apperrors.Connectivity("POST /stories failed", errors.New("reset"))
	}

	_, err := env.repo.AddStory(ctx, newStory(), true)
	assert.True(t, apperrors.IsConnectivity(err))

	stats, err := env.repo.Queue().Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestAddStory_ServerMessageUnmodified(t *testing.T) {
	env := setup(t, true, nil)
	env.svc.add = func(api.Upload) (*api.Response, error) {
		return nil, apperrors.Server(413, "Payload content length greater than maximum allowed: 1000000")
	}

	_, err := env.repo.AddStory(context.Background(), newStory(), true)
	assert.Equal(t, "Payload content length greater than maximum allowed: 1000000", apperrors.UserMessage(err))
}

func TestAddStory_Validation(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	_, err := env.repo.AddStory(ctx, models.NewStory{Photo: []byte("x")}, true)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = env.repo.AddStory(ctx, models.NewStory{Description: "Trip"}, true)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestAddStory_OfflineEnqueues(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	res, err := env.repo.AddStory(ctx, newStory(), true)
	require.NoError(t, err)
	assert.True(t, res.Offline)
	assert.Regexp(t, `^temp_\d+_\d+$`, res.TempID)
	assert.Equal(t, QueuedMessage, res.Message)

	list, err := env.repo.ListStories(ctx, api.ListParams{})
	require.NoError(t, err)
	require.Len(t, list.Stories, 1)
	assert.Equal(t, res.TempID, list.Stories[0].ID)
	assert.True(t, list.Stories[0].IsPending)
	assert.Equal(t, "Trip", list.Stories[0].Description)

	item, err := env.repo.Queue().Get(ctx, res.TempID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, item.Status)
	assert.Zero(t, env.svc.addCalls.Load())
}

type halfCompressor struct{}

func (halfCompressor) Compress(_ context.Context, data []byte) ([]byte, error) {
	return data[:len(data)/2], nil
}

type brokenCompressor struct{}

func (brokenCompressor) Compress(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("unsupported format")
}

func TestAddStory_OfflineCompression(t *testing.T) {
	tests := []struct {
		name       string
		compressor media.Compressor
		want       string
	}{
		{"compressed", halfCompressor{}, "jpeg-"},
		{"failure keeps original", brokenCompressor{}, "jpeg-bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t, false, nil)
			env.repo.compressor = tt.compressor

			res, err := env.repo.AddStory(context.Background(), newStory(), true)
			require.NoError(t, err)

			data, err := env.blobs.Get(res.TempID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

// =====================================================
// Drain
// =====================================================

func TestSyncOfflineQueue_Completion(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	added, err := env.repo.AddStory(ctx, newStory(), true)
	require.NoError(t, err)

	env.monitor.Set(true)
	res, err := env.repo.SyncOfflineQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)

	cached := env.repo.CachedStories(ctx)
	assert.Equal(t, []string{"srv-1"}, ids(cached))

	pending, err := env.repo.Queue().Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, events.SyncComplete{Success: 1, Failed: 0}, env.rec.last(events.TypeSyncComplete))
	uploaded := env.rec.last(events.TypeEntityUploaded).(events.EntityUploaded)
	assert.Equal(t, added.TempID, uploaded.TempID)

	require.Len(t, env.svc.uploads, 1)
	assert.True(t, env.svc.uploads[0].UseAuth)
	assert.NotEmpty(t, env.svc.uploads[0].IdempotencyKey)
	assert.Equal(t, []byte("jpeg-bytes"), env.svc.uploads[0].Photo)
}

func TestSyncOfflineQueue_Scenario(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/stories", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Trip", r.FormValue("description"))
		assert.Equal(t, "1", r.FormValue("lat"))
		assert.Equal(t, "2", r.FormValue("lon"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"error":false,"story":{"id":"srv-99","description":"Trip","createdAt":"2024-01-01T00:00:00Z"}}`))
	}))
	defer srv.Close()

	client := api.NewClient(api.Config{BaseURL: srv.URL, Timeout: time.Second}, func() string { return "tok" }, nil)
	env := setup(t, true, client)
	ctx := context.Background()

	// the queued item as it would be left by an offline submission
	item := &queue.Item{
		ID:             "temp_1000_42",
		Operation:      queue.OperationAdd,
		Payload:        queue.Payload{Description: "Trip", Lat: models.Float(1.0), Lon: models.Float(2.0), CreatedAt: 1000},
		BinaryRef:      "temp_1000_42",
		UseAuth:        true,
		IdempotencyKey: "6f1c2b1e-9a7d-4c3b-8e5f-0a1b2c3d4e5f",
		Status:         queue.StatusPending,
		MaxRetries:     queue.DefaultMaxRetries,
		EnqueuedAt:     time.UnixMilli(1000),
		UpdatedAt:      time.UnixMilli(1000),
	}
	insertItem(t, env, item)
	_, err := env.blobs.Put("temp_1000_42", []byte("jpeg"))
	require.NoError(t, err)
	require.NoError(t, env.repo.Store().Put(ctx, db.Cache, item.PendingStory()))

	res, err := env.repo.SyncOfflineQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.DrainResult{Total: 1, Success: 1}, res)
	assert.Equal(t, int32(1), calls.Load())

	assert.NotNil(t, env.repo.Store().Get(ctx, db.Cache, "srv-99"))
	assert.Nil(t, env.repo.Store().Get(ctx, db.Cache, "temp_1000_42"))

	got, err := env.repo.Queue().Get(ctx, "temp_1000_42")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	assert.Equal(t, "srv-99", got.ResultID)
	assert.False(t, env.blobs.Exists("temp_1000_42"))

	assert.Equal(t, events.SyncComplete{Success: 1, Failed: 0}, env.rec.last(events.TypeSyncComplete))
}

func insertItem(t *testing.T, env *testEnv, item *queue.Item) {
	t.Helper()
	m, err := item.ToModel()
	require.NoError(t, err)
	_, err = env.db.ExecContext(context.Background(), `
	INSERT INTO offline_queue (id, type, payload, binary_ref, use_auth, idempotency_key,
		status, retries, max_retries, last_error, result_id, enqueued_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Operation, string(m.Payload), m.BinaryRef, m.UseAuth, m.IdempotencyKey,
		m.Status, m.RetryCount, m.MaxRetries, m.LastError, m.ResultID, m.EnqueuedAt, m.UpdatedAt)
	require.NoError(t, err)
}

func TestSyncOfflineQueue_RetryCeiling(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()
	env.svc.add = func(api.Upload) (*api.Response, error) {
		return nil, apperrors.Server(500, "Internal Server Error")
	}

	added, err := env.repo.AddStory(ctx, newStory(), true)
	require.NoError(t, err)
	env.monitor.Set(true)

	for i := 0; i < 3; i++ {
		res, err := env.repo.SyncOfflineQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
	}

	item, err := env.repo.Queue().Get(ctx, added.TempID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, item.Status)
	assert.Equal(t, 3, item.Retries)
	assert.Equal(t, "Internal Server Error", item.LastError)

	res, err := env.repo.SyncOfflineQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Equal(t, int32(3), env.svc.addCalls.Load())

	// the pending row stays visible with its failed item
	assert.NotNil(t, env.repo.Store().Get(ctx, db.Cache, added.TempID))
}

func TestSyncOfflineQueue_SingleFlight(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.repo.AddStory(ctx, newStory(), true)
		require.NoError(t, err)
	}
	env.monitor.Set(true)
	env.svc.block = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]queue.DrainResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = env.repo.SyncOfflineQueue(ctx)
		}(i)
	}

	require.Eventually(t, env.repo.Queue().IsDraining, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(env.svc.block)
	wg.Wait()

	assert.Equal(t, int32(3), env.svc.addCalls.Load())
	skipped := 0
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestSyncOfflineQueue_Offline(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()
	_, err := env.repo.AddStory(ctx, newStory(), true)
	require.NoError(t, err)

	res, err := env.repo.SyncOfflineQueue(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, env.svc.addCalls.Load())
}

func TestStart_DrainsWhenNetworkReturns(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	require.NoError(t, env.repo.Start(ctx))
	_, err := env.repo.AddStory(ctx, newStory(), true)
	require.NoError(t, err)
	assert.Zero(t, env.svc.addCalls.Load())

	env.monitor.Set(true)
	require.Eventually(t, func() bool {
		stats, err := env.repo.Queue().Stats(ctx)
		return err == nil && stats.Completed == 1
	}, time.Second, 5*time.Millisecond)

	env.repo.Close()
	env.monitor.Set(false)
	_, err = env.repo.AddStory(ctx, newStory(), true)
	require.NoError(t, err)
	env.monitor.Set(true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), env.svc.addCalls.Load(), "closed repository no longer drains")
}

func TestStart_DrainsWhenAlreadyOnline(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()
	_, err := env.repo.AddStory(ctx, newStory(), true)
	require.NoError(t, err)

	// a second process starting while online
	restarted := New(Deps{
		DB:      env.db,
		API:     env.svc,
		Blobs:   env.blobs,
		Monitor: network.NewMonitor(true, nil),
	})
	t.Cleanup(restarted.Close)

	require.NoError(t, restarted.Start(ctx))
	require.Eventually(t, func() bool { return env.svc.addCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

// =====================================================
// Favorites
// =====================================================

func TestFavorites_Toggle(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()
	s := remote("a", base)

	on, err := env.repo.ToggleFavorite(ctx, s)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, env.repo.IsFavorited(ctx, "a"))
	assert.Equal(t, events.EntityFavorited{ID: "a"}, env.rec.last(events.TypeEntityFavorited))

	on, err = env.repo.ToggleFavorite(ctx, s)
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, env.repo.IsFavorited(ctx, "a"))
	assert.Equal(t, events.EntityUnfavorited{ID: "a"}, env.rec.last(events.TypeEntityUnfavorited))

	_, err = env.repo.ToggleFavorite(ctx, &models.Story{})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestFavorites_IndependentOfCache(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()
	s := remote("a", base)

	require.NoError(t, env.repo.Store().Put(ctx, db.Cache, s))
	require.NoError(t, env.repo.SaveFavorite(ctx, s))

	require.NoError(t, env.repo.ClearCachedStories(ctx))
	assert.Empty(t, env.repo.CachedStories(ctx))
	assert.True(t, env.repo.IsFavorited(ctx, "a"))

	require.NoError(t, env.repo.Store().Put(ctx, db.Cache, s))
	require.NoError(t, env.repo.RemoveFavorite(ctx, "a"))
	assert.NotNil(t, env.repo.Store().Get(ctx, db.Cache, "a"))
}

func TestFavorites_ListNewestSavedFirst(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()
	clock := base
	env.repo.Store().SetClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})

	// created order is the reverse of saved order
	require.NoError(t, env.repo.SaveFavorite(ctx, remote("first", base.Add(time.Hour))))
	require.NoError(t, env.repo.SaveFavorite(ctx, remote("second", base)))

	assert.Equal(t, []string{"second", "first"}, ids(env.repo.ListFavorites(ctx)))

	n, err := env.repo.FavoritesCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err := env.repo.FavoritesPage(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, ids(page.Favorites))
	assert.True(t, page.Pagination.HasNextPage)
}

func TestFavorites_ExportImport(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()
	require.NoError(t, env.repo.SaveFavorite(ctx, remote("a", base)))
	require.NoError(t, env.repo.SaveFavorite(ctx, remote("b", base)))

	data, err := env.repo.ExportFavorites(ctx)
	require.NoError(t, err)

	require.NoError(t, env.repo.ClearFavorites(ctx))
	assert.Empty(t, env.repo.ListFavorites(ctx))

	before := len(env.rec.all())
	n, err := env.repo.ImportFavorites(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"a", "b"}, ids(env.repo.ListFavorites(ctx)))
	assert.Len(t, env.rec.all(), before+2)
}

// =====================================================
// Maintenance
// =====================================================

func TestCleanup(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	now := base.Add(30 * 24 * time.Hour)
	env.repo.Store().SetClock(func() time.Time { return base })
	require.NoError(t, env.repo.Store().Put(ctx, db.Cache, remote("stale", base)))
	added, err := env.repo.AddStory(ctx, newStory(), true)
	require.NoError(t, err)

	env.repo.Store().SetClock(func() time.Time { return now })
	require.NoError(t, env.repo.Store().Put(ctx, db.Cache, remote("fresh", now)))

	res, err := env.repo.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Stories)

	assert.ElementsMatch(t, []string{"fresh", added.TempID}, ids(env.repo.CachedStories(ctx)))
}

func TestCleanup_PurgesCompletedItems(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	_, err := env.repo.AddStory(ctx, newStory(), true)
	require.NoError(t, err)
	env.monitor.Set(true)
	_, err = env.repo.SyncOfflineQueue(ctx)
	require.NoError(t, err)

	require.NoError(t, env.repo.CleanupExpiredCache(ctx))
	items, err := env.repo.Queue().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}
