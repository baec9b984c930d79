package watchdog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/faults"
)

// Process is a handle on a launched engine.
type Process interface {
	Alive() bool
	Kill() error
}

// Launcher starts a fresh engine process.
type Launcher interface {
	Start(ctx context.Context) (Process, error)
}

const (
	defaultCheckInterval = time.Second
	defaultStaleAfter    = 5 * time.Second
	defaultMaxAttempts   = 3
	defaultCooldown      = 10 * time.Second
)

// Monitor is the supervision loop. It launches the engine, watches the
// heartbeat file, restarts on silence or death, and escalates when
// consecutive restarts keep failing within the cooldown window.
type Monitor struct {
	hbPath     string
	launcher   Launcher
	enginePath string
	logger     *zap.Logger

	checkEvery  time.Duration
	staleAfter  time.Duration
	maxAttempts int
	cooldown    time.Duration
	escalate    func(reason string)
	now         func() time.Time

	mu          sync.Mutex
	proc        Process
	lastLaunch  time.Time
	attempts    int
	windowStart time.Time
	updatePrep  bool
	updateBin   string
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the logger.
func WithMonitorLogger(l *zap.Logger) MonitorOption { return func(m *Monitor) { m.logger = l } }

// WithCheckInterval sets how often the loop evaluates liveness.
func WithCheckInterval(d time.Duration) MonitorOption { return func(m *Monitor) { m.checkEvery = d } }

// WithStaleAfter sets the heartbeat staleness threshold.
func WithStaleAfter(d time.Duration) MonitorOption { return func(m *Monitor) { m.staleAfter = d } }

// WithRestartPolicy bounds consecutive restart attempts within the
// cooldown window.
func WithRestartPolicy(maxAttempts int, cooldown time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.maxAttempts = maxAttempts
		m.cooldown = cooldown
	}
}

// WithEnginePath names the engine binary on disk, enabling the update
// swap protocol.
func WithEnginePath(path string) MonitorOption { return func(m *Monitor) { m.enginePath = path } }

// WithEscalation replaces the action taken when restarts are exhausted.
func WithEscalation(fn func(reason string)) MonitorOption {
	return func(m *Monitor) { m.escalate = fn }
}

// WithMonitorClock injects the time source.
func WithMonitorClock(now func() time.Time) MonitorOption { return func(m *Monitor) { m.now = now } }

// NewMonitor wires a supervision loop over the heartbeat at hbPath.
func NewMonitor(hbPath string, launcher Launcher, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		hbPath:      hbPath,
		launcher:    launcher,
		logger:      zap.NewNop(),
		checkEvery:  defaultCheckInterval,
		staleAfter:  defaultStaleAfter,
		maxAttempts: defaultMaxAttempts,
		cooldown:    defaultCooldown,
		now:         time.Now,
	}
	m.escalate = func(reason string) {
		m.logger.Error("engine supervision exhausted", zap.String("reason", reason))
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// errEscalated stops the run loop after escalation fired.
var errEscalated = faults.New(faults.Internal, "restart attempts exhausted")

// Run launches the engine and supervises it until ctx ends or
// escalation fires.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.checkEvery)
	defer ticker.Stop()
	for {
		if err := m.Check(ctx); err != nil {
			if err == errEscalated {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Check performs one supervision step. Exposed so the policy is
// testable without timers.
func (m *Monitor) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc == nil {
		return m.launchLocked(ctx)
	}

	if m.healthyLocked() {
		// A full cooldown of health clears the failure window.
		if m.attempts > 0 && m.now().Sub(m.windowStart) > m.cooldown {
			m.attempts = 0
		}
		return nil
	}

	if m.updatePrep {
		// Restart is suppressed while an update is prepared: the
		// engine exits on purpose and we swap before relaunching.
		if m.proc.Alive() {
			return nil
		}
		return m.applyUpdateLocked(ctx)
	}

	m.logger.Warn("engine unhealthy, restarting")
	if m.proc.Alive() {
		if err := m.proc.Kill(); err != nil {
			m.logger.Warn("kill engine", zap.Error(err))
		}
	}
	m.proc = nil

	if m.now().Sub(m.windowStart) > m.cooldown {
		m.attempts = 0
	}
	if m.attempts == 0 {
		m.windowStart = m.now()
	}
	m.attempts++
	if m.attempts > m.maxAttempts {
		m.escalate("engine failed to stay up")
		return errEscalated
	}
	return m.launchLocked(ctx)
}

func (m *Monitor) launchLocked(ctx context.Context) error {
	proc, err := m.launcher.Start(ctx)
	if err != nil {
		m.logger.Error("launch engine", zap.Error(err))
		if m.attempts == 0 {
			m.windowStart = m.now()
		}
		m.attempts++
		if m.attempts > m.maxAttempts {
			m.escalate("engine failed to launch")
			return errEscalated
		}
		return nil
	}
	m.proc = proc
	m.lastLaunch = m.now()
	m.logger.Info("engine launched")
	return nil
}

// healthyLocked is true when the process is alive and the heartbeat is
// fresh. A freshly launched engine gets one staleness interval of grace
// to write its first beat.
func (m *Monitor) healthyLocked() bool {
	if !m.proc.Alive() {
		return false
	}
	hb, err := ReadHeartbeat(m.hbPath)
	if err != nil || m.now().Sub(hb) > m.staleAfter {
		return m.now().Sub(m.lastLaunch) <= m.staleAfter
	}
	return true
}

func (m *Monitor) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proc != nil && m.proc.Alive() {
		m.proc.Kill()
	}
	m.proc = nil
}
