package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "spudbot/pkg/logx"
)

// ErrOverlapSkip is returned by RunNow when the job is already running.
var ErrOverlapSkip = errors.New("schedule skipped: previous run still in flight")

// ErrUnknownSchedule is returned by RunNow for a name that was never added.
var ErrUnknownSchedule = errors.New("unknown schedule")

type Config struct {
	Timezone       string        // IANA TZ, e.g. "Europe/Berlin"; empty means Local
	DefaultTimeout time.Duration // applied when a schedule has no timeout; 0 disables
}

// Job is the unit of work a schedule triggers.
type Job func(ctx context.Context) error

// runState tracks one schedule's runs. It is shared by cron triggers and
// RunNow so both observe the same in-flight flag.
type runState struct {
	mu       sync.Mutex
	running  bool
	runs     uint64
	skipped  uint64
	failures uint64
	lastRun  time.Time
	lastDur  time.Duration
	lastErr  string
}

func (r *runState) tryStart(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.skipped++
		return false
	}
	r.running = true
	r.lastRun = now
	return true
}

func (r *runState) finish(took time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.runs++
	r.lastDur = took
	r.lastErr = ""
	if err != nil {
		r.failures++
		r.lastErr = err.Error()
	}
}

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration // initial random delay for @every schedules (startup spread)
	state         *runState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// base is the parent context of every run; cancelled on Stop.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Run error throttling: key is schedule name.
	errMu       sync.Mutex
	lastErrWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name          string        `json:"name"`
	Spec          string        `json:"spec"`
	Timeout       time.Duration `json:"timeout"`
	StartupSpread time.Duration `json:"startup_spread,omitempty"`
	Next          time.Time     `json:"next"`
	Prev          time.Time     `json:"prev"`
	Running       bool          `json:"running"`
	Runs          uint64        `json:"runs"`
	Skipped       uint64        `json:"skipped"`
	Failures      uint64        `json:"failures"`
	LastRun       time.Time     `json:"last_run"`
	LastDuration  time.Duration `json:"last_duration"`
	LastError     string        `json:"last_error,omitempty"`
}

type Snapshot struct {
	Started   bool           `json:"started"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
