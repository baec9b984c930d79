package watchdog

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Notification is the persistent record surfaced to the user when the
// supervisor gives up. The shell picks it up on next start.
type Notification struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// WriteNotification persists a notification under dir/notifications.
func WriteNotification(dir, title, body string) (string, error) {
	notifDir := filepath.Join(dir, "notifications")
	if err := os.MkdirAll(notifDir, 0755); err != nil {
		return "", err
	}
	n := Notification{Title: title, Body: body, CreatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(notifDir, fmt.Sprintf("%d.json", n.CreatedAt.UnixNano()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// EscalateToShell builds the default escalation: write a persistent
// notification and, when a restore command is configured, hand the
// desktop back to the host shell. Both steps are best effort.
func EscalateToShell(dataDir, restoreCmd string, logger *zap.Logger) func(reason string) {
	return func(reason string) {
		logger.Error("restoring host shell", zap.String("reason", reason))
		if _, err := WriteNotification(dataDir,
			"NeuralFS stopped",
			"The engine could not be restarted: "+reason); err != nil {
			logger.Warn("write notification", zap.Error(err))
		}
		if restoreCmd == "" {
			return
		}
		if err := exec.Command(restoreCmd).Start(); err != nil {
			logger.Warn("restore shell", zap.Error(err))
		}
	}
}
