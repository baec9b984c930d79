package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/faults"
)

// PrepareUpdate arms the swap protocol: auto-restart is suppressed and
// once the engine exits the staged binary replaces it.
func (m *Monitor) PrepareUpdate(binary string) error {
	if m.enginePath == "" {
		return faults.New(faults.InvalidArgument, "no engine path configured")
	}
	info, err := os.Stat(binary)
	if err != nil {
		return faults.Wrap(faults.NotFound, "staged binary", err)
	}
	if info.IsDir() {
		return faults.New(faults.InvalidArgument, "staged binary is a directory")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePrep = true
	m.updateBin = binary
	m.logger.Info("update prepared", zap.String("binary", binary))
	return nil
}

// applyUpdateLocked swaps the engine binary for the staged one and
// relaunches. A failed launch restores the backup and relaunches the
// previous build.
func (m *Monitor) applyUpdateLocked(ctx context.Context) error {
	m.updatePrep = false
	staged := m.updateBin
	m.updateBin = ""
	m.proc = nil

	backup := fmt.Sprintf("%s.backup.%d", m.enginePath, m.now().Unix())
	if err := copyFile(m.enginePath, backup); err != nil {
		m.logger.Error("backup engine binary", zap.Error(err))
		return m.launchLocked(ctx)
	}
	if err := copyFile(staged, m.enginePath); err != nil {
		m.logger.Error("install staged binary", zap.Error(err))
		return m.launchLocked(ctx)
	}

	proc, err := m.launcher.Start(ctx)
	if err == nil {
		m.proc = proc
		m.lastLaunch = m.now()
		m.attempts = 0
		m.logger.Info("engine updated", zap.String("backup", backup))
		return nil
	}

	m.logger.Error("updated engine failed to launch, rolling back", zap.Error(err))
	if err := copyFile(backup, m.enginePath); err != nil {
		m.logger.Error("restore backup binary", zap.Error(err))
	}
	return m.launchLocked(ctx)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// Wire format on the update socket: one JSON request per connection.
type updateRequest struct {
	Command string `json:"command"`
	Binary  string `json:"binary,omitempty"`
}

type updateResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ServeUpdates listens on a unix socket for prepare-update commands
// until ctx ends.
func (m *Monitor) ServeUpdates(ctx context.Context, socketPath string) error {
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return faults.Wrap(faults.TransientIO, "listen update socket", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return faults.Wrap(faults.TransientIO, "accept update connection", err)
		}
		go m.handleUpdateConn(conn)
	}
}

func (m *Monitor) handleUpdateConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	var req updateRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		json.NewEncoder(conn).Encode(updateResponse{Error: "malformed request"})
		return
	}
	var resp updateResponse
	switch req.Command {
	case "prepare-update":
		if err := m.PrepareUpdate(req.Binary); err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
		}
	default:
		resp.Error = "unknown command: " + req.Command
	}
	json.NewEncoder(conn).Encode(resp)
}

// SendPrepareUpdate is the engine-side client for the update socket.
func SendPrepareUpdate(socketPath, binary string) error {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return faults.Wrap(faults.TransientNetwork, "dial update socket", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(updateRequest{Command: "prepare-update", Binary: binary}); err != nil {
		return faults.Wrap(faults.TransientNetwork, "send prepare-update", err)
	}
	var resp updateResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return faults.Wrap(faults.TransientNetwork, "read update response", err)
	}
	if !resp.OK {
		return faults.Newf(faults.Internal, "prepare-update refused: %s", resp.Error)
	}
	return nil
}
