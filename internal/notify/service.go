// Package notify turns validated requests into displayed notifications and
// owns the lifecycle after display: running the action on activation,
// releasing staged files and purging stale registry entries.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/toastd/toastd/internal/actions"
	"github.com/toastd/toastd/internal/activation"
	"github.com/toastd/toastd/internal/dispatch"
	"github.com/toastd/toastd/internal/health"
	"github.com/toastd/toastd/internal/logging"
	"github.com/toastd/toastd/internal/stager"
	"github.com/toastd/toastd/internal/toast"
)

var log = logging.L("notify")

// Executor runs resolved actions off the callback path.
type Executor interface {
	Execute(job actions.Job) error
	Pending() int
	Shutdown(ctx context.Context)
}

type Options struct {
	Stager   *stager.Stager
	Builder  *toast.Builder
	Store    activation.Store
	Backend  dispatch.Backend
	Source   dispatch.Source
	Executor Executor
	Monitor  *health.Monitor

	// AttachmentRetention keeps revealed attachments on disk after
	// activation so the file browser can still open them.
	AttachmentRetention time.Duration
	// EntryTTL bounds how long an unresolved entry is kept.
	EntryTTL      time.Duration
	PurgeInterval time.Duration
}

// Receipt describes a submitted notification.
type Receipt struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

type Service struct {
	stager     *stager.Stager
	builder    *toast.Builder
	store      activation.Store
	dispatcher *dispatch.Dispatcher
	executor   Executor
	monitor    *health.Monitor
	events     *Broker

	retention     time.Duration
	entryTTL      time.Duration
	purgeInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	retained  map[*time.Timer]struct{}
	stopPurge context.CancelFunc
	purgeDone chan struct{}
	shutdown  bool
}

func New(opts Options) *Service {
	if opts.Builder == nil {
		opts.Builder = toast.NewBuilder()
	}
	if opts.Store == nil {
		opts.Store = activation.NewRegistry()
	}
	if opts.EntryTTL <= 0 {
		opts.EntryTTL = 24 * time.Hour
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = time.Minute
	}
	s := &Service{
		stager:        opts.Stager,
		builder:       opts.Builder,
		store:         opts.Store,
		executor:      opts.Executor,
		monitor:       opts.Monitor,
		events:        NewBroker(),
		retention:     opts.AttachmentRetention,
		entryTTL:      opts.EntryTTL,
		purgeInterval: opts.PurgeInterval,
		now:           time.Now,
		retained:      make(map[*time.Timer]struct{}),
	}
	s.dispatcher = dispatch.New(opts.Backend, opts.Store, opts.Source, s.hooks(), opts.Monitor)
	return s
}

// Start registers the notification source and begins the purge loop. The
// HTTP layer must not accept submissions before Start succeeded.
func (s *Service) Start(ctx context.Context) error {
	if err := s.dispatcher.RegisterSource(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopPurge == nil {
		purgeCtx, cancel := context.WithCancel(context.Background())
		s.stopPurge = cancel
		s.purgeDone = make(chan struct{})
		go s.purgeLoop(purgeCtx)
	}
	return nil
}

func (s *Service) Ready() bool {
	return s.dispatcher.Ready()
}

// Pending returns the number of unresolved activation entries.
func (s *Service) Pending() int {
	return s.store.Len()
}

func (s *Service) Events() *Broker {
	return s.events
}

// Collector exposes the registry size to Prometheus.
func (s *Service) Collector() prometheus.Collector {
	return registryGauge(s.store.Len)
}

// Submit validates, stages, builds and displays one notification. It returns
// once the OS accepted the payload; activation happens later.
func (s *Service) Submit(ctx context.Context, req Request) (Receipt, error) {
	rec, err := s.submit(ctx, req)
	if err != nil {
		submissions.WithLabelValues(KindOf(err).String()).Inc()
		return Receipt{}, err
	}
	submissions.WithLabelValues("ok").Inc()
	return rec, nil
}

func (s *Service) submit(ctx context.Context, req Request) (Receipt, error) {
	if err := req.Validate(); err != nil {
		return Receipt{}, err
	}
	if !s.dispatcher.Ready() {
		return Receipt{}, newError(KindDispatch, dispatch.ErrNotReady)
	}

	content := toast.Content{
		Title:           req.Title,
		Message:         req.Message,
		CallbackCommand: req.CallbackCommand,
	}

	var batch *stager.Batch
	if req.Image != nil || len(req.Attachments) > 0 {
		var err error
		if batch, err = s.stage(req, &content); err != nil {
			return Receipt{}, newError(KindStaging, err)
		}
	}
	discard := func() {
		if batch != nil {
			batch.Discard()
		}
	}

	payload, entry, err := s.builder.Build(content)
	if err != nil {
		discard()
		return Receipt{}, newError(KindBuild, err)
	}

	l := logging.WithCorrelation(log, entry.ID)
	if err := s.dispatcher.Show(ctx, payload, entry); err != nil {
		discard()
		l.Warn("notification rejected", logging.KeyError, err)
		return Receipt{}, newError(KindDispatch, err)
	}

	action := entry.Action.Kind.String()
	l.Info("notification submitted", "action", action, "attachments", len(req.Attachments), "image", req.Image != nil)
	lifecycleEvents.WithLabelValues(string(EventShown)).Inc()
	s.events.Publish(Event{Type: EventShown, CorrelationID: entry.ID, Action: action})
	return Receipt{ID: entry.ID, Action: action}, nil
}

// stage writes the image and attachments into a fresh batch and records
// their paths in content. The batch is discarded on failure.
func (s *Service) stage(req Request, content *toast.Content) (*stager.Batch, error) {
	if s.stager == nil {
		return nil, errors.New("no scratch directory configured")
	}
	batch, err := s.stager.NewBatch()
	if err != nil {
		return nil, err
	}
	content.StagingDir = batch.Dir()

	if req.Image != nil {
		mediaType, _ := req.Image.mediaType()
		res, err := batch.Stage(req.Image.Data, req.Image.stagedName(mediaType), stager.KindImage)
		if err != nil {
			batch.Discard()
			return nil, err
		}
		content.Image = &toast.Image{Path: res.Path, Placement: req.Image.placement()}
	}
	for _, a := range req.Attachments {
		res, err := batch.Stage(a.Data, a.Name, stager.KindAttachment)
		if err != nil {
			batch.Discard()
			return nil, err
		}
		content.Attachments = append(content.Attachments, res.Path)
	}
	return batch, nil
}

func (s *Service) hooks() dispatch.Hooks {
	return dispatch.Hooks{
		Activated: s.onActivated,
		Dismissed: s.onDismissed,
		Expired: func(id string) {
			lifecycleEvents.WithLabelValues(string(EventExpired)).Inc()
			s.events.Publish(Event{Type: EventExpired, CorrelationID: id})
		},
		Dropped: func(reason string) {
			callbacksDropped.WithLabelValues(reason).Inc()
		},
	}
}

func (s *Service) onActivated(entry activation.Entry, src toast.Source) {
	kind := entry.Action.Kind.String()
	lifecycleEvents.WithLabelValues(string(EventActivated)).Inc()
	s.events.Publish(Event{Type: EventActivated, CorrelationID: entry.ID, Action: kind, Source: string(src)})

	if s.executor == nil {
		s.release(entry)
		return
	}
	_ = s.executor.Execute(actions.Job{
		ID:     entry.ID,
		Action: entry.Action,
		Done: func(err error) {
			if err != nil {
				actionsRun.WithLabelValues(kind, "error").Inc()
				s.events.Publish(Event{Type: EventActionFailed, CorrelationID: entry.ID, Action: kind, Error: err.Error()})
			} else {
				actionsRun.WithLabelValues(kind, "ok").Inc()
			}
			s.release(entry)
		},
	})
}

func (s *Service) onDismissed(entry activation.Entry, reason dispatch.DismissReason) {
	typ := EventDismissed
	if reason == dispatch.ReasonFailed {
		typ = EventFailed
	}
	lifecycleEvents.WithLabelValues(string(typ)).Inc()
	s.events.Publish(Event{Type: typ, CorrelationID: entry.ID, Reason: string(reason)})
	s.cleanup(entry.StagingDir)
}

// release frees the staged files of a consumed entry. Revealed attachments
// stay on disk for the retention period.
func (s *Service) release(entry activation.Entry) {
	if entry.StagingDir == "" {
		return
	}
	if entry.Action.Kind != activation.RevealFiles || s.retention <= 0 {
		s.cleanup(entry.StagingDir)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.retained, t)
		s.mu.Unlock()
		s.cleanup(entry.StagingDir)
	})
	s.retained[t] = struct{}{}
}

func (s *Service) cleanup(dir string) {
	if s.stager != nil && dir != "" {
		s.stager.CleanupDir(dir)
	}
}

func (s *Service) purgeLoop(ctx context.Context) {
	defer close(s.purgeDone)
	ticker := time.NewTicker(s.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purge(s.now())
		}
	}
}

// purge removes entries older than the TTL and expired entries whose
// expiry is older than the TTL.
func (s *Service) purge(now time.Time) int {
	purged := s.store.PurgeExpired(now.Add(-s.entryTTL))
	for _, e := range purged {
		s.dispatcher.Forget(e.ID)
		s.cleanup(e.StagingDir)
	}
	if n := len(purged); n > 0 {
		entriesPurged.Add(float64(n))
		log.Info("purged stale activation entries", "count", n)
	}
	return len(purged)
}

// Shutdown stops the purge loop, the backend and the action pool, then
// reaps every remaining entry and removes the scratch directory.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	stop, done := s.stopPurge, s.purgeDone
	for t := range s.retained {
		t.Stop()
	}
	s.retained = make(map[*time.Timer]struct{})
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	var errs []error
	if err := s.dispatcher.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.executor != nil {
		s.executor.Shutdown(ctx)
	}

	reaped := s.store.Drain()
	if len(reaped) > 0 {
		log.Info("reaped pending activation entries", "count", len(reaped))
	}
	s.events.Close()

	if s.stager != nil {
		if err := s.stager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
