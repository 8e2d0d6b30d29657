// Package story provides the Repository, the single decision point between
// the remote story service and local storage.
//
// Reads go to the network while online and fall back to the Cache
// collection on connectivity failures. Writes go to the network while
// online and to the offline queue while offline. Favorites are always local.
package story

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/storysync/internal/api"
	"github.com/kimhsiao/storysync/internal/db"
	"github.com/kimhsiao/storysync/internal/events"
	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/media"
	"github.com/kimhsiao/storysync/internal/models"
	"github.com/kimhsiao/storysync/internal/network"
	"github.com/kimhsiao/storysync/internal/sync/queue"
	"github.com/kimhsiao/storysync/internal/sync/storage"
)

// DefaultCacheRetention is how long a cached story is kept.
const DefaultCacheRetention = 7 * 24 * time.Hour

// Service is the remote story service. *api.Client implements it.
type Service interface {
	ListStories(ctx context.Context, p api.ListParams) (*api.Response, error)
	GetStory(ctx context.Context, id string) (*api.Response, error)
	AddStory(ctx context.Context, up api.Upload) (*api.Response, error)
}

// Deps are the collaborators of a Repository. DB, API and Blobs are
// required.
type Deps struct {
	DB    *db.DB
	API   Service
	Blobs *storage.BlobStore

	// Monitor defaults to an always-online monitor.
	Monitor *network.Monitor
	// Images, when set, receives the photos of every story written to the
	// Cache so they can be shown offline.
	Images *storage.ImageCache
	// Compressor shrinks photos before they are queued; defaults to media.Noop.
	Compressor media.Compressor
	// Waker is asked to schedule a drain after every enqueue.
	Waker queue.Waker
	// Bus defaults to a new bus owned by the repository.
	Bus *events.Bus

	Queue          queue.Config
	CacheRetention time.Duration
	ImageRetention time.Duration
}

// Repository orchestrates the network and local storage.
type Repository struct {
	api        Service
	store      *db.Store
	queue      *queue.Queue
	monitor    *network.Monitor
	images     *storage.ImageCache
	compressor media.Compressor
	bus        *events.Bus

	cacheRetention time.Duration
	imageRetention time.Duration

	mu    sync.Mutex
	unsub func()
	wg    sync.WaitGroup
}

// New wires a Repository and the offline queue it owns.
func New(deps Deps) *Repository {
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.Monitor == nil {
		deps.Monitor = network.NewMonitor(true, deps.Bus)
	}
	if deps.Compressor == nil {
		deps.Compressor = media.Noop{}
	}
	if deps.CacheRetention <= 0 {
		deps.CacheRetention = DefaultCacheRetention
	}
	if deps.ImageRetention <= 0 {
		deps.ImageRetention = storage.DefaultImageRetention
	}

	r := &Repository{
		api:            deps.API,
		store:          db.NewStore(deps.DB),
		monitor:        deps.Monitor,
		images:         deps.Images,
		compressor:     deps.Compressor,
		bus:            deps.Bus,
		cacheRetention: deps.CacheRetention,
		imageRetention: deps.ImageRetention,
	}
	r.queue = queue.New(queue.Deps{
		DB:        deps.DB,
		Blobs:     deps.Blobs,
		Uploader:  r,
		Merger:    r,
		Publisher: deps.Bus,
		Online:    deps.Monitor.IsOnline,
		Waker:     deps.Waker,
	}, deps.Queue)
	return r
}

// Bus returns the event bus.
func (r *Repository) Bus() *events.Bus { return r.bus }

// Queue returns the offline queue.
func (r *Repository) Queue() *queue.Queue { return r.queue }

// Store returns the local story store.
func (r *Repository) Store() *db.Store { return r.store }

// Monitor returns the network monitor.
func (r *Repository) Monitor() *network.Monitor { return r.monitor }

// Start checks the local store, subscribes to connectivity changes so the
// queue drains whenever the network comes back, and drains once if already
// online. Background work stops when ctx is done or Close is called.
func (r *Repository) Start(ctx context.Context) error {
	reset, err := r.store.EnsureHealthy(ctx)
	if err != nil {
		return err
	}
	if reset {
		logging.Warn("Local story store was reset, cached and favorite stories were lost", nil)
	}

	r.mu.Lock()
	if r.unsub == nil {
		r.unsub = r.monitor.Subscribe(func(online bool) {
			if online {
				r.drainAsync(ctx, "online")
			}
		})
	}
	r.mu.Unlock()

	if r.monitor.IsOnline() {
		r.drainAsync(ctx, "startup")
	}
	return nil
}

// Close stops reacting to connectivity changes and waits for background
// work to finish.
func (r *Repository) Close() {
	r.mu.Lock()
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Repository) drainAsync(ctx context.Context, trigger string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res, err := r.queue.Drain(ctx)
		if err != nil {
			logging.Error("Offline queue drain failed", err, map[string]interface{}{
				"trigger": trigger,
			})
			return
		}
		if !res.Skipped && res.Total > 0 {
			logging.Info("Offline queue drained after trigger", map[string]interface{}{
				"trigger": trigger,
				"success": res.Success,
				"failed":  res.Failed,
			})
		}
	}()
}

// SyncOfflineQueue drains the offline queue now.
func (r *Repository) SyncOfflineQueue(ctx context.Context) (queue.DrainResult, error) {
	return r.queue.Drain(ctx)
}

// Upload sends a queued story to the service. It implements queue.Uploader.
func (r *Repository) Upload(ctx context.Context, item *queue.Item, photo []byte) (*models.Story, error) {
	resp, err := r.api.AddStory(ctx, api.Upload{
		Description:    item.Payload.Description,
		Photo:          photo,
		PhotoName:      item.Payload.PhotoName,
		Lat:            item.Payload.Lat,
		Lon:            item.Payload.Lon,
		UseAuth:        item.UseAuth,
		IdempotencyKey: item.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return resp.Story, nil
}

// ReplaceCached swaps the pending Cache row of an uploaded story for the
// server's copy. It implements queue.CacheMerger.
func (r *Repository) ReplaceCached(ctx context.Context, tempID string, story *models.Story) error {
	if err := r.store.ReplaceCached(ctx, tempID, story); err != nil {
		return err
	}
	if story != nil {
		r.prefetch(ctx, []*models.Story{story})
	}
	return nil
}

// prefetch downloads story photos into the image cache in the background.
func (r *Repository) prefetch(ctx context.Context, stories []*models.Story) {
	if r.images == nil || len(stories) == 0 {
		return
	}
	urls := make([]string, 0, len(stories))
	for _, s := range stories {
		if storage.Cacheable(s.PhotoURL) {
			urls = append(urls, s.PhotoURL)
		}
	}
	if len(urls) == 0 {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// detached from the request so a finished read does not cancel it
		ctx := context.WithoutCancel(ctx)
		n := r.images.Prefetch(ctx, urls)
		logging.Debug("Prefetched story photos", map[string]interface{}{
			"requested": len(urls),
			"cached":    n,
		})
	}()
}
