package watchdog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
)

type fakeProc struct {
	alive  bool
	killed int
}

func (p *fakeProc) Alive() bool { return p.alive }
func (p *fakeProc) Kill() error {
	p.alive = false
	p.killed++
	return nil
}

type fakeLauncher struct {
	procs []*fakeProc
	fail  int // launches to fail before succeeding
}

func (l *fakeLauncher) Start(ctx context.Context) (Process, error) {
	if l.fail > 0 {
		l.fail--
		return nil, errors.New("spawn failed")
	}
	p := &fakeProc{alive: true}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) last() *fakeProc { return l.procs[len(l.procs)-1] }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func writeBeat(t *testing.T, path string, at time.Time) {
	t.Helper()
	hb := NewHeartbeat(path, time.Second)
	hb.now = func() time.Time { return at }
	if err := hb.Beat(); err != nil {
		t.Fatal(err)
	}
}

func newTestMonitor(t *testing.T, opts ...MonitorOption) (*Monitor, *fakeLauncher, *fakeClock, string) {
	t.Helper()
	dir := t.TempDir()
	hbPath := filepath.Join(dir, "heartbeat")
	launcher := &fakeLauncher{}
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	base := []MonitorOption{WithMonitorClock(clk.now)}
	m := NewMonitor(hbPath, launcher, append(base, opts...)...)
	return m, launcher, clk, dir
}

func TestHeartbeatRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat")
	at := time.Unix(1_700_000_123, 0)
	writeBeat(t, path, at)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != heartbeatSize {
		t.Errorf("heartbeat size: got %d, want %d", info.Size(), heartbeatSize)
	}

	got, err := ReadHeartbeat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(at) {
		t.Errorf("heartbeat: got %v, want %v", got, at)
	}

	_, err = ReadHeartbeat(filepath.Join(t.TempDir(), "missing"))
	if faults.KindOf(err) != faults.NotFound {
		t.Errorf("missing heartbeat kind: %v", faults.KindOf(err))
	}
}

func TestMonitorHealthyEngineLeftAlone(t *testing.T) {
	m, launcher, clk, _ := newTestMonitor(t)
	ctx := context.Background()

	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		clk.advance(time.Second)
		writeBeat(t, m.hbPath, clk.now())
		if err := m.Check(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if len(launcher.procs) != 1 {
		t.Errorf("launches: got %d, want 1", len(launcher.procs))
	}
	if launcher.procs[0].killed != 0 {
		t.Error("healthy engine was killed")
	}
}

func TestMonitorRestartsOnStaleHeartbeat(t *testing.T) {
	m, launcher, clk, _ := newTestMonitor(t)
	ctx := context.Background()

	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	writeBeat(t, m.hbPath, clk.now())

	// silence past the staleness threshold and the launch grace
	clk.advance(6 * time.Second)
	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	if len(launcher.procs) != 2 {
		t.Fatalf("launches: got %d, want 2", len(launcher.procs))
	}
	if launcher.procs[0].killed != 1 {
		t.Error("stale engine was not killed")
	}
	if !launcher.procs[1].alive {
		t.Error("replacement not running")
	}
}

func TestMonitorEscalatesAfterMaxAttempts(t *testing.T) {
	var escalated []string
	m, launcher, _, _ := newTestMonitor(t,
		WithEscalation(func(reason string) { escalated = append(escalated, reason) }))
	ctx := context.Background()

	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	// engine dies after every restart; 3 attempts allowed, 4th failure
	// escalates
	for i := 0; i < 3; i++ {
		launcher.last().alive = false
		if err := m.Check(ctx); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	launcher.last().alive = false
	if err := m.Check(ctx); err != errEscalated {
		t.Fatalf("expected escalation, got %v", err)
	}
	if len(escalated) != 1 {
		t.Errorf("escalations: got %d, want 1", len(escalated))
	}
	if len(launcher.procs) != 4 {
		t.Errorf("launches before giving up: got %d, want 4", len(launcher.procs))
	}
}

func TestMonitorAttemptWindowResets(t *testing.T) {
	m, launcher, clk, _ := newTestMonitor(t)
	ctx := context.Background()

	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	launcher.last().alive = false
	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	launcher.last().alive = false
	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}

	// a cooldown of stability clears the counter
	clk.advance(11 * time.Second)
	writeBeat(t, m.hbPath, clk.now())
	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	if m.attempts != 0 {
		t.Errorf("attempts after cooldown: got %d, want 0", m.attempts)
	}

	// fresh window tolerates three more restarts
	for i := 0; i < 3; i++ {
		launcher.last().alive = false
		if err := m.Check(ctx); err != nil {
			t.Fatalf("post-reset attempt %d: %v", i+1, err)
		}
	}
}

func updateFixture(t *testing.T, m *Monitor, dir string) (engine, staged string) {
	t.Helper()
	engine = filepath.Join(dir, "engine")
	staged = filepath.Join(dir, "engine.staged")
	if err := os.WriteFile(engine, []byte("old build"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(staged, []byte("new build"), 0755); err != nil {
		t.Fatal(err)
	}
	m.enginePath = engine
	return engine, staged
}

func TestUpdateSwapOnExit(t *testing.T) {
	m, launcher, _, dir := newTestMonitor(t)
	engine, staged := updateFixture(t, m, dir)
	ctx := context.Background()

	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.PrepareUpdate(staged); err != nil {
		t.Fatal(err)
	}

	// prepared + engine still running: no restart, no swap
	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	if len(launcher.procs) != 1 {
		t.Fatalf("swap before exit: %d launches", len(launcher.procs))
	}

	launcher.last().alive = false
	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(engine)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new build" {
		t.Errorf("engine binary after swap: %q", data)
	}
	backups, _ := filepath.Glob(engine + ".backup.*")
	if len(backups) != 1 {
		t.Fatalf("backups: got %d, want 1", len(backups))
	}
	if data, _ := os.ReadFile(backups[0]); string(data) != "old build" {
		t.Errorf("backup content: %q", data)
	}
	if len(launcher.procs) != 2 || !launcher.last().alive {
		t.Error("updated engine not running")
	}
	if m.updatePrep {
		t.Error("update still armed after swap")
	}
}

func TestUpdateRollbackOnFailedLaunch(t *testing.T) {
	m, launcher, _, dir := newTestMonitor(t)
	engine, staged := updateFixture(t, m, dir)
	ctx := context.Background()

	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.PrepareUpdate(staged); err != nil {
		t.Fatal(err)
	}
	launcher.last().alive = false
	launcher.fail = 1 // the new build refuses to start
	if err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(engine)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "old build" {
		t.Errorf("engine binary after rollback: %q", data)
	}
	if len(launcher.procs) != 2 || !launcher.last().alive {
		t.Error("previous build not relaunched")
	}
}

func TestUpdateSocketRoundtrip(t *testing.T) {
	m, _, _, dir := newTestMonitor(t)
	_, staged := updateFixture(t, m, dir)
	sock := filepath.Join(dir, "watchdog.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.ServeUpdates(ctx, sock)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("update socket never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := SendPrepareUpdate(sock, staged); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	prepared, bin := m.updatePrep, m.updateBin
	m.mu.Unlock()
	if !prepared || bin != staged {
		t.Errorf("prepare state: %v %q", prepared, bin)
	}

	if err := SendPrepareUpdate(sock, filepath.Join(dir, "missing")); err == nil {
		t.Error("expected refusal for missing binary")
	}
}

func TestWriteNotification(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteNotification(dir, "NeuralFS stopped", "engine gave up")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "engine gave up") {
		t.Errorf("notification body missing: %s", data)
	}
}
