package timer

import (
	"errors"
	"time"
)

var (
	ErrStopped   = errors.New("timer engine stopped")
	ErrQueueFull = errors.New("timer engine queue full")
)

// Config controls the timer engine.
type Config struct {
	// Workers bounds concurrent handler executions.
	Workers int
	// QueueSize bounds fired-but-not-yet-executed jobs.
	QueueSize int
	// MisfireGrace is how late a fire may run before it is reported missed
	// instead of executed. 0 disables the check.
	MisfireGrace time.Duration
	// MaxInstances caps concurrent executions of the same job id; fires
	// beyond the cap are suppressed.
	MaxInstances int
	// FireTimeout bounds one handler execution. 0 disables the timeout.
	FireTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 20
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MisfireGrace <= 0 {
		c.MisfireGrace = 60 * time.Second
	}
	if c.MaxInstances <= 0 {
		c.MaxInstances = 3
	}
	if c.FireTimeout < 0 {
		c.FireTimeout = 0
	}
	return c
}

// Snapshot is a lightweight diagnostics view.
type Snapshot struct {
	Running  bool
	Workers  int
	Armed    int
	QueueLen int
	QueueCap int
	InFlight int

	Fired      uint64
	Missed     uint64
	Suppressed uint64
	Dropped    uint64
}

type armedJob struct {
	at  time.Time
	ver uint64
	t   *time.Timer
}

type firedJob struct {
	jobID   string
	firesAt time.Time
}
