package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/scraper"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCancelled = "cancelled"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
	ErrShutdown    = errors.New("manager is shutting down")
)

// RunSaver persists finished runs.
type RunSaver interface {
	SaveRun(ctx context.Context, result *scraper.Result) error
}

// FinishPublisher announces finished runs.
type FinishPublisher interface {
	PublishFinished(ctx context.Context, result *scraper.Result) error
}

// Job is a point-in-time view of a crawl run owned by the Manager.
type Job struct {
	ID         string            `json:"id"`
	StartURL   string            `json:"start_url"`
	MaxPages   int               `json:"max_pages"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Progress   *scraper.Progress `json:"progress,omitempty"`
	Outcome    *Outcome          `json:"outcome,omitempty"`
}

// Outcome summarises a finished run without its listings.
type Outcome struct {
	Terminal       scraper.Terminal `json:"terminal"`
	Pages          int              `json:"pages"`
	TotalListings  int              `json:"total_listings"`
	TotalSoldCount int64            `json:"total_sold_count"`
	TotalRevenue   int64            `json:"total_revenue"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	Cause          string           `json:"cause,omitempty"`
	Duration       string           `json:"duration"`
}

type job struct {
	Job
	result    *scraper.Result
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

// Manager starts crawl runs in the background, one goroutine and one
// browser session per run, and keeps their live progress and results.
type Manager struct {
	newSession scraper.SessionFactory
	opts       scraper.Options
	metrics    *scraper.Metrics
	progress   scraper.Reporter
	store      RunSaver
	finisher   FinishPublisher
	logger     *slog.Logger

	slots    chan struct{}
	sinkWait time.Duration

	mu     sync.RWMutex
	jobs   map[string]*job
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func NewManager(newSession scraper.SessionFactory, opts *scraper.Options, logger *slog.Logger) *Manager {
	if opts == nil {
		opts = scraper.DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		newSession: newSession,
		opts:       *opts,
		logger:     logger.With("component", "job_manager"),
		slots:      make(chan struct{}, 1),
		sinkWait:   30 * time.Second,
		jobs:       make(map[string]*job),
		ctx:        ctx,
		stop:       stop,
	}
}

func (m *Manager) WithMetrics(metrics *scraper.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithProgressReporter adds a reporter that receives every run's progress.
func (m *Manager) WithProgressReporter(r scraper.Reporter) *Manager {
	m.progress = r
	return m
}

func (m *Manager) WithStore(s RunSaver) *Manager {
	m.store = s
	return m
}

func (m *Manager) WithFinishPublisher(p FinishPublisher) *Manager {
	m.finisher = p
	return m
}

// WithConcurrency bounds how many runs hold a browser at the same time.
// Further runs wait in pending state.
func (m *Manager) WithConcurrency(n int) *Manager {
	if n < 1 {
		n = 1
	}
	m.slots = make(chan struct{}, n)
	return m
}

// Start validates startURL and launches a run. maxPages <= 0 keeps the
// configured limit.
func (m *Manager) Start(startURL string, maxPages int) (Job, error) {
	if err := scraper.ValidateStartURL(startURL); err != nil {
		return Job{}, err
	}

	opts := m.opts
	if maxPages > 0 {
		opts.MaxPages = maxPages
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Job{}, ErrShutdown
	}

	ctx, cancel := context.WithCancel(m.ctx)
	j := &job{
		Job: Job{
			ID:        uuid.New().String(),
			StartURL:  startURL,
			MaxPages:  opts.MaxPages,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.jobs[j.ID] = j
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("crawl job created", "id", j.ID, "url", startURL, "max_pages", opts.MaxPages)

	go m.run(ctx, j, &opts)

	return m.view(j), nil
}

func (m *Manager) run(ctx context.Context, j *job, opts *scraper.Options) {
	defer m.wg.Done()
	defer close(j.done)
	defer j.cancel()

	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-ctx.Done():
		m.finish(j, &scraper.Result{
			ID:         j.ID,
			StartURL:   j.StartURL,
			Terminal:   scraper.TerminalAborted,
			Err:        ctx.Err(),
			Cause:      ctx.Err().Error(),
			ErrorKind:  scraper.ErrorKind(ctx.Err()),
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
		})
		return
	}

	now := time.Now()
	m.mu.Lock()
	j.Status = StatusRunning
	j.StartedAt = &now
	m.mu.Unlock()

	crawler := scraper.NewCrawler(m.newSession, opts, m.logger).WithMetrics(m.metrics)
	reporter := scraper.Reporters{
		scraper.ReporterFunc(func(ctx context.Context, p scraper.Progress) {
			m.mu.Lock()
			j.Progress = &p
			m.mu.Unlock()
		}),
		m.progress,
	}

	result := crawler.RunWithID(ctx, j.ID, j.StartURL, reporter)
	m.finish(j, result)
}

func (m *Manager) finish(j *job, result *scraper.Result) {
	m.mu.Lock()
	j.result = result
	finished := result.FinishedAt
	j.FinishedAt = &finished
	j.Outcome = outcomeOf(result)
	// a cancel that lands after the crawl already finished leaves its terminal state alone
	if j.cancelled && result.ErrorKind == scraper.KindCancelled {
		j.Status = StatusCancelled
	} else {
		j.Status = string(result.Terminal)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.sinkWait)
	defer cancel()

	if m.store != nil {
		if err := m.store.SaveRun(ctx, result); err != nil {
			m.logger.Error("failed to persist run", "id", j.ID, "error", err)
		}
	}
	if m.finisher != nil {
		if err := m.finisher.PublishFinished(ctx, result); err != nil {
			m.logger.Error("failed to publish run result", "id", j.ID, "error", err)
		}
	}

	m.logger.Info("crawl job finished",
		"id", j.ID,
		"status", j.Status,
		"listings", result.TotalListings)
}

func (m *Manager) Get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return m.viewLocked(j), nil
}

// List returns all known jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, m.viewLocked(j))
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// Listings returns the listings of a job ordered by revenue: the final
// snapshot once finished, the live one while running. limit <= 0 returns all.
func (m *Manager) Listings(id string, limit int) ([]models.Listing, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrJobNotFound
	}
	var listings []models.Listing
	var live *scraper.Progress
	if j.result != nil {
		listings = j.result.Listings
	} else if j.Progress != nil {
		p := *j.Progress
		live = &p
	}
	m.mu.RUnlock()

	if live != nil {
		listings = live.Snapshot()
	}
	if listings == nil {
		listings = []models.Listing{}
	}
	if limit > 0 && len(listings) > limit {
		listings = listings[:limit]
	}
	out := make([]models.Listing, len(listings))
	copy(out, listings)
	return out, nil
}

// Result returns the final result of a finished job.
func (m *Manager) Result(id string) (*scraper.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.result, nil
}

// Cancel stops a pending or running job. The run keeps what it collected.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if j.result != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobFinished, j.Status)
	}
	j.cancelled = true
	m.mu.Unlock()

	m.logger.Info("cancelling crawl job", "id", id)
	j.cancel()
	return nil
}

// Done returns a channel closed when the job has finished.
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.done, nil
}

// Shutdown cancels every job and waits for their sessions to close.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) view(j *job) Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewLocked(j)
}

func (m *Manager) viewLocked(j *job) Job {
	v := j.Job
	if j.Progress != nil {
		p := *j.Progress
		v.Progress = &p
	}
	return v
}

func outcomeOf(r *scraper.Result) *Outcome {
	return &Outcome{
		Terminal:       r.Terminal,
		Pages:          r.PageNumber,
		TotalListings:  r.TotalListings,
		TotalSoldCount: r.TotalSoldCount,
		TotalRevenue:   r.TotalRevenue,
		ErrorKind:      r.ErrorKind,
		Cause:          r.Cause,
		Duration:       r.Duration().Round(time.Millisecond).String(),
	}
}
