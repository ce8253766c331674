package fieldclient

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/shenikar/falconwatch/internal/alert"
	"github.com/shenikar/falconwatch/internal/routing"
	"github.com/sirupsen/logrus"
)

// CommandAudio проигрывает тревожный звук внешней командой (например, "aplay alert.wav").
// Play запускает процесс и не ждет его завершения, Stop его убивает.
// Пустая команда только пишет в лог.
type CommandAudio struct {
	name   string
	args   []string
	logger *logrus.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewCommandAudio(command []string, logger *logrus.Logger) *CommandAudio {
	a := &CommandAudio{logger: logger}
	if len(command) > 0 {
		a.name = command[0]
		a.args = command[1:]
	}
	return a
}

func (a *CommandAudio) Play() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Warn("ALERT: unacknowledged high severity incidents")
	if a.name == "" || a.cmd != nil {
		return nil
	}
	cmd := exec.Command(a.name, a.args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("fieldclient: start alert sound: %w", err)
	}
	a.cmd = cmd
	go func() {
		_ = cmd.Wait()
		a.mu.Lock()
		if a.cmd == cmd {
			a.cmd = nil
		}
		a.mu.Unlock()
	}()
	return nil
}

func (a *CommandAudio) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Info("Alert sound stopped")
	if a.cmd == nil || a.cmd.Process == nil {
		return nil
	}
	err := a.cmd.Process.Kill()
	a.cmd = nil
	if err != nil {
		return fmt.Errorf("fieldclient: stop alert sound: %w", err)
	}
	return nil
}

// LogNotifier выводит оповещения патруля в лог
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(notification alert.Notification) {
	incident := notification.Incident
	n.logger.WithFields(logrus.Fields{
		"incident_id": incident.ID,
		"category":    incident.Category,
		"severity":    incident.Severity.String(),
		"latitude":    incident.Latitude,
		"longitude":   incident.Longitude,
		"eta":         routing.FormatETA(notification.ETA),
	}).Warn("PATROL: new high severity incident")
}
