package timer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

// Handler executes one fired job. Errors are the handler's own business
// (the coordinator decides retry policy); the engine only logs them.
type Handler func(ctx context.Context, jobID string) error

// MissedFunc is invoked instead of the handler when a job fires later than
// the misfire grace.
type MissedFunc func(jobID string, firesAt time.Time)

type Service struct {
	cfg    Config
	log    logx.Logger
	fire   Handler
	missed MissedFunc

	mu     sync.Mutex
	armed  map[string]*armedJob
	verSeq uint64

	runMu  sync.Mutex
	queue  chan firedJob
	stopCh chan struct{}
	sup    *rtsup.Supervisor

	// per-job concurrent execution counts (guarded by imu)
	imu      sync.Mutex
	inflight map[string]int

	firedN      uint64
	missedN     uint64
	suppressedN uint64
	droppedN    uint64
	inFlightN   int32
}

func New(cfg Config, log logx.Logger, fire Handler, missed MissedFunc) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		fire:     fire,
		missed:   missed,
		armed:    map[string]*armedJob{},
		inflight: map[string]int{},
	}
}

// Start launches the worker pool. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopCh != nil {
		return
	}

	s.queue = make(chan firedJob, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	queue := s.queue

	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "timer"))))
	for i := 0; i < s.cfg.Workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		s.sup.GoRestart(name, func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			return c.Err()
		})
	}

	s.log.Info("timer engine started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue", cap(queue)),
		logx.Duration("misfire_grace", s.cfg.MisfireGrace),
	)
}

// Stop disarms all timers and stops the workers. Armed jobs are discarded;
// the durable store remains authoritative for what was pending.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runMu.Lock()
	if s.stopCh == nil {
		s.runMu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.queue = nil
	sup := s.sup
	s.sup = nil
	s.runMu.Unlock()

	s.mu.Lock()
	for id, j := range s.armed {
		j.t.Stop()
		delete(s.armed, id)
	}
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
		if err := sup.Wait(ctx); err != nil && err != context.Canceled {
			s.log.Warn("timer engine stop incomplete", logx.Err(err))
		}
	}
	s.log.Info("timer engine stopped")
}

// Arm schedules jobID to fire at firesAt. Re-arming an existing job id
// replaces its previous unfired timer.
func (s *Service) Arm(jobID string, firesAt time.Time) error {
	if jobID == "" {
		return fmt.Errorf("job id required")
	}
	s.runMu.Lock()
	running := s.stopCh != nil
	s.runMu.Unlock()
	if !running {
		return ErrStopped
	}

	s.mu.Lock()
	if prev, ok := s.armed[jobID]; ok {
		prev.t.Stop()
	}
	s.verSeq++
	ver := s.verSeq
	delay := time.Until(firesAt)
	if delay < 0 {
		delay = 0
	}
	j := &armedJob{at: firesAt, ver: ver}
	j.t = time.AfterFunc(delay, func() { s.onFire(jobID, ver) })
	s.armed[jobID] = j
	s.mu.Unlock()

	s.log.Debug("job armed", logx.String("job", jobID), logx.Time("at", firesAt))
	return nil
}

// Disarm stops jobID's timer. It is a no-op (not an error) when the id is
// absent or already fired.
func (s *Service) Disarm(jobID string) {
	s.mu.Lock()
	if j, ok := s.armed[jobID]; ok {
		j.t.Stop()
		delete(s.armed, jobID)
	}
	s.mu.Unlock()
}

// onFire runs in the AfterFunc goroutine: hand the job to the queue and get
// out. A stale version means the job was re-armed or disarmed meanwhile.
func (s *Service) onFire(jobID string, ver uint64) {
	s.mu.Lock()
	j, ok := s.armed[jobID]
	if !ok || j.ver != ver {
		s.mu.Unlock()
		return
	}
	delete(s.armed, jobID)
	firesAt := j.at
	s.mu.Unlock()

	s.runMu.Lock()
	queue := s.queue
	s.runMu.Unlock()
	if queue == nil {
		return
	}

	select {
	case queue <- firedJob{jobID: jobID, firesAt: firesAt}:
	default:
		// The record stays pending in the store, so a dropped fire is
		// re-discovered by the next startup reconciliation.
		atomic.AddUint64(&s.droppedN, 1)
		s.log.Warn("fire dropped: queue full", logx.String("job", jobID))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan firedJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case f := <-queue:
			s.execOne(ctx, f)
		}
	}
}

func (s *Service) execOne(ctx context.Context, f firedJob) {
	now := time.Now()
	late := now.Sub(f.firesAt)

	if s.cfg.MisfireGrace > 0 && late > s.cfg.MisfireGrace {
		atomic.AddUint64(&s.missedN, 1)
		s.log.Warn("job missed misfire grace",
			logx.String("job", f.jobID),
			logx.Duration("late", late),
		)
		if s.missed != nil {
			s.missed(f.jobID, f.firesAt)
		}
		return
	}

	if !s.acquireInstance(f.jobID) {
		atomic.AddUint64(&s.suppressedN, 1)
		s.log.Warn("fire suppressed: instance cap reached", logx.String("job", f.jobID))
		return
	}
	defer s.releaseInstance(f.jobID)

	atomic.AddInt32(&s.inFlightN, 1)
	defer atomic.AddInt32(&s.inFlightN, -1)
	atomic.AddUint64(&s.firedN, 1)

	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.FireTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.FireTimeout)
		defer cancel()
	}

	// One bad handler must not kill a worker.
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("handler panic",
					logx.String("job", f.jobID),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}()
		return s.fire(runCtx, f.jobID)
	}()
	if err != nil {
		s.log.Warn("fire handler failed", logx.String("job", f.jobID), logx.Err(err), logx.Duration("late", late))
		return
	}
	s.log.Debug("job fired", logx.String("job", f.jobID), logx.Duration("late", late))
}

func (s *Service) acquireInstance(jobID string) bool {
	s.imu.Lock()
	defer s.imu.Unlock()
	if s.inflight[jobID] >= s.cfg.MaxInstances {
		return false
	}
	s.inflight[jobID]++
	return true
}

func (s *Service) releaseInstance(jobID string) {
	s.imu.Lock()
	if n := s.inflight[jobID]; n <= 1 {
		delete(s.inflight, jobID)
	} else {
		s.inflight[jobID] = n - 1
	}
	s.imu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	armed := len(s.armed)
	s.mu.Unlock()

	s.runMu.Lock()
	running := s.stopCh != nil
	ql, qc := 0, 0
	if s.queue != nil {
		ql, qc = len(s.queue), cap(s.queue)
	}
	s.runMu.Unlock()

	return Snapshot{
		Running:    running,
		Workers:    s.cfg.Workers,
		Armed:      armed,
		QueueLen:   ql,
		QueueCap:   qc,
		InFlight:   int(atomic.LoadInt32(&s.inFlightN)),
		Fired:      atomic.LoadUint64(&s.firedN),
		Missed:     atomic.LoadUint64(&s.missedN),
		Suppressed: atomic.LoadUint64(&s.suppressedN),
		Dropped:    atomic.LoadUint64(&s.droppedN),
	}
}
