package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"playlist-sync/internal/catalog"
	"playlist-sync/internal/config"
	"playlist-sync/internal/playlist"
	"playlist-sync/internal/realtime"
	"playlist-sync/internal/shared"
	"playlist-sync/internal/syncer"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const connectTimeout = 15 * time.Second

// Runner holds the dependencies of the CLI commands.
type Runner struct {
	config  config.Config
	logger  *log.Logger
	output  io.Writer
	catalog catalog.Fetcher
}

type RunnerOpts struct {
	Config  config.Config
	Logger  *log.Logger
	Output  io.Writer
	Catalog catalog.Fetcher
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil, opts.Config.LogLevel)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{
		config:  opts.Config,
		logger:  opts.Logger,
		output:  opts.Output,
		catalog: opts.Catalog,
	}
}

// newCatalog builds the catalog fetcher from the config: the HTTP client,
// behind a redis cache when REDIS_URL is set. It returns nil without
// CATALOG_URL.
func newCatalog(cfg config.Config, logger *log.Logger) (catalog.Fetcher, error) {
	if cfg.CatalogURL == "" {
		return nil, nil
	}
	var f catalog.Fetcher = catalog.NewHTTPClient(cfg.CatalogURL, cfg.RateLimitRPS)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		f = catalog.NewRedisCache(redis.NewClient(opt), f, cfg.CatalogCacheTTL, logger.With("component", "catalog"))
	}
	return f, nil
}

// logPlayer stands in for a real playback engine.
type logPlayer struct {
	log *log.Logger
}

func (p logPlayer) Prepare(slot playlist.OrderHash, play bool) {
	p.log.Info("player: prepare", "slot", slot, "play", play)
}

// session connects to the room, waits for the first snapshot and then runs fn.
// The connection is closed when fn returns.
func (r *Runner) session(ctx context.Context, onChange func(syncer.State), fn func(context.Context, *syncer.Coordinator) error) error {
	if err := r.config.ValidateClient(); err != nil {
		return err
	}

	conn, err := realtime.NewConn(r.config.RelayURL, r.config.Room, r.logger.With("component", "conn"))
	if err != nil {
		return err
	}
	c := syncer.New(syncer.Options{
		Room:        r.config.Room,
		Fetcher:     r.catalog,
		Player:      logPlayer{log: r.logger},
		Sender:      conn,
		Snapshots:   realtime.NewSnapshotClient(r.config.RelayURL, nil),
		LeaseWindow: r.config.LeaseWindow,
		Strict:      r.config.Strict,
		Logger:      r.logger.With("component", "syncer"),
		OnChange:    onChange,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan struct{}, 1)
	runErr := make(chan error, 1)
	go func() {
		runErr <- conn.Run(ctx,
			func(ctx context.Context, msg realtime.Message) {
				if err := c.HandleMessage(ctx, msg); err != nil {
					r.logger.Warnf("client: %v", err)
				}
			},
			func(ctx context.Context) {
				if err := c.Resync(ctx); err != nil {
					r.logger.Warnf("client: %v", err)
				}
				select {
				case ready <- struct{}{}:
				default:
				}
			},
		)
	}()

	select {
	case <-ready:
	case err := <-runErr:
		return err
	case <-time.After(connectTimeout):
		return fmt.Errorf("no connection to %s after %s", r.config.RelayURL, connectTimeout)
	}

	err = fn(ctx, c)
	c.Wait()
	if err == nil {
		err = r.checkSynced(c)
	}
	cancel()
	if runE := <-runErr; runE != nil && !errors.Is(runE, context.Canceled) {
		r.logger.Warnf("client: %v", runE)
	}
	return err
}

// checkSynced fails when an edit could not be sent or the room state was
// rejected and not recovered, so the local view no longer matches the room.
func (r *Runner) checkSynced(c *syncer.Coordinator) error {
	if c.NeedsResync() {
		return fmt.Errorf("room %s: local state diverged from the relay, changes may not have been delivered", r.config.Room)
	}
	return nil
}

// resolve looks the tracks up in the catalog, keeping the requested order.
func (r *Runner) resolve(ctx context.Context, ids []playlist.TrackID) ([]playlist.Track, error) {
	if r.catalog == nil {
		return nil, errors.New("CATALOG_URL is required to resolve tracks")
	}
	found, err := r.catalog.FetchTracks(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[playlist.TrackID]playlist.Track, len(found))
	for _, tr := range found {
		byID[tr.ID] = tr
	}
	out := make([]playlist.Track, 0, len(ids))
	for _, id := range ids {
		tr, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("track %d: %w", id, playlist.ErrTrackNotCached)
		}
		out = append(out, tr)
	}
	return out, nil
}

func (r *Runner) printOrder(s playlist.Structure, current playlist.OrderHash) error {
	slots, err := s.Slots()
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		_, err := fmt.Fprintln(r.output, "(empty)")
		return err
	}
	for i, slot := range slots {
		marker := " "
		if slot == current {
			marker = ">"
		}
		n, _ := s.Node(slot)
		title := fmt.Sprintf("track %d", n.TrackID)
		if tr, ok := s.Track(n.TrackID); ok {
			title = tr.Title
			if tr.Artist != "" {
				title += " - " + tr.Artist
			}
		}
		if _, err := fmt.Fprintf(r.output, "%s%3d. %s  %s\n", marker, i+1, slot, title); err != nil {
			return err
		}
	}
	return nil
}

func parseIDs(args []string) ([]playlist.TrackID, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one track id is required")
	}
	ids := make([]playlist.TrackID, 0, len(args))
	for _, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid track id %q", a)
		}
		ids = append(ids, playlist.TrackID(v))
	}
	return ids, nil
}
