// Package watchdog supervises the engine process. The engine writes a
// lock-protected heartbeat file; an out-of-process monitor reads it,
// restarts the engine on silence, and escalates when restarts keep
// failing. The monitor also accepts a prepare-update command over a
// unix socket so binary swaps happen without a fight over restarts.
package watchdog

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/neuralfs/neuralfs/internal/faults"
)

// heartbeatSize is the fixed record: one little-endian uint64 of epoch
// seconds.
const heartbeatSize = 8

// Heartbeat periodically writes the current time to the shared file.
type Heartbeat struct {
	path     string
	interval time.Duration
	now      func() time.Time
}

// NewHeartbeat prepares a writer for the given path. interval defaults
// to one second.
func NewHeartbeat(path string, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = time.Second
	}
	return &Heartbeat{path: path, interval: interval, now: time.Now}
}

// Beat writes one timestamp. The write holds an exclusive flock so the
// monitor never observes a torn value.
func (h *Heartbeat) Beat() error {
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return faults.Wrap(faults.TransientIO, "open heartbeat", err)
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return faults.Wrap(faults.TransientIO, "lock heartbeat", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	var buf [heartbeatSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(h.now().Unix()))
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		return faults.Wrap(faults.TransientIO, "write heartbeat", err)
	}
	return nil
}

// Run beats immediately and then on every interval until ctx ends.
func (h *Heartbeat) Run(ctx context.Context) error {
	if err := h.Beat(); err != nil {
		return err
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.Beat(); err != nil {
				return err
			}
		}
	}
}

// ReadHeartbeat returns the timestamp last written to path. A missing
// file maps to NotFound, a short file to Corrupt.
func ReadHeartbeat(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, faults.Wrap(faults.NotFound, "open heartbeat", err)
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return time.Time{}, faults.Wrap(faults.TransientIO, "lock heartbeat", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	var buf [heartbeatSize]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return time.Time{}, faults.Wrap(faults.Corrupt, "read heartbeat", err)
	}
	return time.Unix(int64(binary.LittleEndian.Uint64(buf[:])), 0), nil
}
