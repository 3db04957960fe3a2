// Package phantom lists and edits phantoms and keeps their status channels in step.
package phantom

import (
	"context"
	"fmt"
	"time"

	"github.com/chatphantom/phantomchat/internal/domain/phantom/models"
	"github.com/chatphantom/phantomchat/internal/logger"
	"github.com/chatphantom/phantomchat/internal/services/status"
	"golang.org/x/sync/errgroup"
)

const (
	trackConcurrency = 4

	// DefaultStatusWait bounds how long Refresh waits for a phantom's first status.
	DefaultStatusWait = 3 * time.Second
)

// Backend is the subset of the API client used for phantom management.
type Backend interface {
	ListPhantoms(ctx context.Context) ([]models.Phantom, error)
	CreatePhantom(ctx context.Context, name, websiteURL string) (*models.Phantom, error)
	RenamePhantom(ctx context.Context, id, name string) (*models.Phantom, error)
	DeletePhantom(ctx context.Context, id string) error
	Recrawl(ctx context.Context, id string) error
}

// Tracker is the subset of the status tracker used here.
type Tracker interface {
	Track(ctx context.Context, phantomID string) error
	Untrack(phantomID string)
	Status(ctx context.Context, phantomID string) (status.Snapshot, error)
	Subscribe(phantomID string) (<-chan status.Snapshot, func())
}

// Listing pairs a phantom with its presented status.
type Listing struct {
	models.Phantom
	Status status.Snapshot
}

type Service struct {
	backend    Backend
	tracker    Tracker
	statusWait time.Duration
}

type Option func(*Service)

// WithStatusWait changes how long Refresh waits for first statuses. Zero disables waiting.
func WithStatusWait(d time.Duration) Option {
	return func(s *Service) {
		s.statusWait = d
	}
}

func NewService(backend Backend, tracker Tracker, opts ...Option) *Service {
	s := &Service{backend: backend, tracker: tracker, statusWait: DefaultStatusWait}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh fetches the user's phantoms and tracks every one of them. Each
// phantom gets up to the status wait to report its first status before the
// listing is taken. Tracking failures are logged; the phantom then presents
// as preparing.
func (s *Service) Refresh(ctx context.Context) ([]Listing, error) {
	phantoms, err := s.backend.ListPhantoms(ctx)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(trackConcurrency)
	for _, p := range phantoms {
		id := p.ID
		g.Go(func() error {
			updates, stop := s.tracker.Subscribe(id)
			defer stop()
			s.track(gctx, id)
			s.awaitFirstStatus(gctx, id, updates)
			return nil
		})
	}
	_ = g.Wait()

	listings := make([]Listing, 0, len(phantoms))
	for _, p := range phantoms {
		snap, err := s.tracker.Status(ctx, p.ID)
		if err != nil {
			l := logger.With(logger.PHANTOM)
			l.Warn().Err(err).Str("phantom_id", p.ID).Msg("Failed to read phantom status")
		}
		listings = append(listings, Listing{Phantom: p, Status: snap})
	}
	return listings, nil
}

// Create registers a phantom and starts tracking its preparation.
func (s *Service) Create(ctx context.Context, name, websiteURL string) (*models.Phantom, error) {
	created, err := s.backend.CreatePhantom(ctx, name, websiteURL)
	if err != nil {
		return nil, err
	}
	l := logger.With(logger.PHANTOM)
	l.Info().Str("phantom_id", created.ID).Str("website_url", created.WebsiteURL).Msg("Phantom created")

	if created.ID != "" {
		s.track(ctx, created.ID)
	}
	return created, nil
}

// Rename changes a phantom's display name.
func (s *Service) Rename(ctx context.Context, id, name string) (*models.Phantom, error) {
	return s.backend.RenamePhantom(ctx, id, name)
}

// Delete removes a phantom and closes its status channel.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.backend.DeletePhantom(ctx, id); err != nil {
		return err
	}
	s.tracker.Untrack(id)
	return nil
}

// Recrawl restarts preparation and reopens the status channel.
func (s *Service) Recrawl(ctx context.Context, id string) error {
	if err := s.backend.Recrawl(ctx, id); err != nil {
		return fmt.Errorf("recrawl: %w", err)
	}
	s.track(ctx, id)
	return nil
}

func (s *Service) track(ctx context.Context, id string) {
	if err := s.tracker.Track(ctx, id); err != nil {
		l := logger.With(logger.PHANTOM)
		l.Warn().Err(err).Str("phantom_id", id).Msg("Status channel unavailable")
	}
}

func (s *Service) awaitFirstStatus(ctx context.Context, id string, updates <-chan status.Snapshot) {
	if s.statusWait <= 0 {
		return
	}
	if snap, err := s.tracker.Status(ctx, id); err == nil && snap.Received {
		return
	}

	timer := time.NewTimer(s.statusWait)
	defer timer.Stop()

	select {
	case <-updates:
	case <-timer.C:
		l := logger.With(logger.PHANTOM)
		l.Debug().Str("phantom_id", id).Msg("No status yet")
	case <-ctx.Done():
	}
}
