package main

import (
	"net/http"

	"github.com/kimhsiao/storysync/internal/api"
	"github.com/kimhsiao/storysync/internal/config"
	"github.com/kimhsiao/storysync/internal/db"
	"github.com/kimhsiao/storysync/internal/events"
	"github.com/kimhsiao/storysync/internal/media"
	"github.com/kimhsiao/storysync/internal/network"
	"github.com/kimhsiao/storysync/internal/story"
	"github.com/kimhsiao/storysync/internal/sync/queue"
	"github.com/kimhsiao/storysync/internal/sync/scheduler"
	"github.com/kimhsiao/storysync/internal/sync/storage"
)

// app wires every component from the configuration.
type app struct {
	cfg       *config.Config
	db        *db.DB
	bus       *events.Bus
	monitor   *network.Monitor
	prober    *network.Prober
	scheduler *scheduler.Scheduler
	repo      *story.Repository
}

// newApp opens the data directory and builds the repository. The monitor
// starts offline until the prober has checked the service.
func newApp(cfg *config.Config) (*app, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.API.Timeout}
	token := cfg.API.Token
	client := api.NewClient(api.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		UserAgent: "storysync/" + version,
	}, func() string { return token }, httpClient)

	bus := events.NewBus()
	monitor := network.NewMonitor(false, bus)
	prober := network.NewProber(monitor, network.ProbeConfig{
		URL:      cfg.Network.ProbeURL,
		Interval: cfg.Network.ProbeInterval,
		Timeout:  cfg.Network.ProbeTimeout,
	}, nil)

	sched := scheduler.New(scheduler.Config{
		DrainInterval:   cfg.Sync.DrainInterval,
		CleanupInterval: cfg.Sync.CleanupInterval,
	})

	var images *storage.ImageCache
	if cfg.Cache.PrefetchImages {
		images = storage.NewImageCache(cfg.ImageDir(), httpClient)
	}

	var compressor media.Compressor = media.Noop{}
	if cfg.Compress.Enabled {
		compressor = media.NewImagingCompressor(media.Options{
			MaxDimension: cfg.Compress.MaxDimension,
			MaxBytes:     cfg.Compress.MaxBytes,
			Quality:      cfg.Compress.Quality,
		})
	}

	repo := story.New(story.Deps{
		DB:         database,
		API:        client,
		Blobs:      storage.NewBlobStore(cfg.BlobDir()),
		Monitor:    monitor,
		Images:     images,
		Compressor: compressor,
		Waker:      sched,
		Bus:        bus,
		Queue: queue.Config{
			MaxRetries: cfg.Sync.MaxRetries,
			MaxSize:    cfg.Sync.MaxQueueSize,
		},
		CacheRetention: cfg.Cache.Retention,
		ImageRetention: cfg.Cache.ImageRetention,
	})

	return &app{
		cfg:       cfg,
		db:        database,
		bus:       bus,
		monitor:   monitor,
		prober:    prober,
		scheduler: sched,
		repo:      repo,
	}, nil
}

// Close stops background work and closes the database.
func (a *app) Close() {
	a.repo.Close()
	a.db.Close()
}
