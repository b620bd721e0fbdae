package recognition

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/facegreet/pkg/adapter"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/usecase/greeting"
	"github.com/m-mizutani/facegreet/pkg/usecase/match"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultFrameInterval          = 100 * time.Millisecond
	DefaultGalleryRefreshInterval = 30 * time.Second
)

// Face is one detection of a frame with its match, nil when unknown
type Face struct {
	Detection model.Detection
	Match     *model.MatchResult
}

// FrameResult is the outcome of processing one frame
type FrameResult struct {
	Faces    []Face
	Enqueued []greeting.Item
}

// Matched returns the accepted matches of the frame
func (r *FrameResult) Matched() []*model.MatchResult {
	var matches []*model.MatchResult
	for _, f := range r.Faces {
		if f.Match != nil {
			matches = append(matches, f.Match)
		}
	}
	return matches
}

// Session drives detection, matching and greeting scheduling for one
// camera. ProcessFrame is not safe for concurrent use.
type Session struct {
	detector        adapter.Detector
	gallery         *match.Gallery
	scheduler       *greeting.Scheduler
	source          adapter.FrameSource
	policy          match.Policy
	events          greeting.EventRecorder
	frameInterval   time.Duration
	refreshInterval time.Duration
	now             func() time.Time

	present map[model.IdentityID]struct{}
}

type Option func(*Session)

func WithFrameSource(src adapter.FrameSource) Option {
	return func(s *Session) {
		s.source = src
	}
}

func WithPolicy(p match.Policy) Option {
	return func(s *Session) {
		s.policy = p
	}
}

func WithFrameInterval(d time.Duration) Option {
	return func(s *Session) {
		s.frameInterval = d
	}
}

func WithGalleryRefreshInterval(d time.Duration) Option {
	return func(s *Session) {
		s.refreshInterval = d
	}
}

func WithEventRecorder(r greeting.EventRecorder) Option {
	return func(s *Session) {
		s.events = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

func New(detector adapter.Detector, gallery *match.Gallery, scheduler *greeting.Scheduler, opts ...Option) *Session {
	s := &Session{
		detector:        detector,
		gallery:         gallery,
		scheduler:       scheduler,
		policy:          match.DefaultPolicy(),
		frameInterval:   DefaultFrameInterval,
		refreshInterval: DefaultGalleryRefreshInterval,
		now:             time.Now,
		present:         make(map[model.IdentityID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessFrame detects faces in frame, matches each against the gallery
// and feeds the matches to the greeting scheduler
func (s *Session) ProcessFrame(ctx context.Context, frame []byte, now time.Time) (*FrameResult, error) {
	detections, err := s.detector.Detect(ctx, frame)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to detect faces")
	}

	identities := s.gallery.Identities()
	result := &FrameResult{Faces: make([]Face, 0, len(detections))}
	for _, d := range detections {
		result.Faces = append(result.Faces, Face{
			Detection: d,
			Match:     match.Match(d.Embedding, identities, s.policy),
		})
	}

	matches := result.Matched()
	s.recordArrivals(ctx, matches, now)

	result.Enqueued = s.scheduler.Observe(ctx, matches, now)
	for _, item := range result.Enqueued {
		logging.From(ctx).Info("greeting enqueued", "id", item.IdentityID, "name", item.Name)
		s.record(ctx, &model.Event{
			Kind:       model.EventGreetingEnqueued,
			IdentityID: item.IdentityID,
			Name:       item.Name,
			At:         now,
		})
	}

	return result, nil
}

// recordArrivals emits a recognized event for identities that were not in
// the previous frame
func (s *Session) recordArrivals(ctx context.Context, matches []*model.MatchResult, now time.Time) {
	current := make(map[model.IdentityID]struct{}, len(matches))
	for _, m := range matches {
		current[m.IdentityID] = struct{}{}
		if _, ok := s.present[m.IdentityID]; ok {
			continue
		}
		logging.From(ctx).Info("person recognized",
			"id", m.IdentityID,
			"name", m.Name,
			"distance", m.Distance,
			"confidence", m.ConfidencePercent)
		s.record(ctx, &model.Event{
			Kind:              model.EventRecognized,
			IdentityID:        m.IdentityID,
			Name:              m.Name,
			Distance:          m.Distance,
			ConfidencePercent: m.ConfidencePercent,
			At:                now,
		})
	}
	s.present = current
}

func (s *Session) record(ctx context.Context, ev *model.Event) {
	if s.events != nil {
		s.events.Record(ctx, ev)
	}
}

// Run processes frames from the frame source until ctx is cancelled.
// Frame errors are logged and the loop continues.
func (s *Session) Run(ctx context.Context) error {
	if s.source == nil {
		return goerr.New("frame source is not configured")
	}
	ctx = logging.WithComponent(ctx, "session")

	if err := s.gallery.Load(ctx); err != nil {
		return err
	}
	logging.From(ctx).Info("session started",
		"identities", s.gallery.Len(),
		"distance_threshold", s.policy.DistanceThreshold,
		"confidence_threshold", s.policy.ConfidenceThreshold)

	frameTicker := time.NewTicker(s.frameInterval)
	defer frameTicker.Stop()
	refreshTicker := time.NewTicker(s.refreshInterval)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.From(ctx).Info("session stopped")
			return nil

		case <-refreshTicker.C:
			if _, err := s.RefreshGallery(ctx); err != nil {
				logging.From(ctx).Warn("failed to refresh gallery", "error", err)
			}

		case <-frameTicker.C:
			s.tick(ctx)
		}
	}
}

// RefreshGallery reloads the gallery when the number of enrolled identities
// changed. Greeting and presence state of identities no longer enrolled is
// dropped, so a re-enrolled person with the same ID starts fresh. It returns
// the dropped IDs.
func (s *Session) RefreshGallery(ctx context.Context) ([]model.IdentityID, error) {
	before := s.gallery.Identities()

	refreshed, err := s.gallery.RefreshIfChanged(ctx)
	if err != nil || !refreshed {
		return nil, err
	}

	var removed []model.IdentityID
	for _, x := range before {
		if _, ok := s.gallery.Get(x.ID); ok {
			continue
		}
		s.scheduler.Forget(x.ID)
		delete(s.present, x.ID)
		removed = append(removed, x.ID)
	}

	logging.From(ctx).Info("gallery reloaded",
		"identities", s.gallery.Len(),
		"removed", len(removed))
	return removed, nil
}

func (s *Session) tick(ctx context.Context) {
	frame, err := s.source.Next(ctx)
	if errors.Is(err, adapter.ErrNoFrame) {
		return
	}
	if err != nil {
		logging.From(ctx).Warn("failed to read frame", "error", err)
		return
	}

	if _, err := s.ProcessFrame(ctx, frame, s.now()); err != nil {
		logging.From(ctx).Warn("failed to process frame", "error", err)
	}
}
