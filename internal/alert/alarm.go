package alert

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// AudioResource - единственный звуковой ресурс клиента. Play и Stop не должны блокироваться.
type AudioResource interface {
	Play() error
	Stop() error
}

// Alarm управляет одним звуковым ресурсом: повторный Play не запускает второй экземпляр
type Alarm struct {
	mu      sync.Mutex
	audio   AudioResource
	playing bool
	logger  *logrus.Logger
}

func NewAlarm(audio AudioResource, logger *logrus.Logger) *Alarm {
	return &Alarm{audio: audio, logger: logger}
}

// Set приводит воспроизведение в соответствие с on
func (a *Alarm) Set(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case on && !a.playing:
		if err := a.audio.Play(); err != nil {
			a.logger.WithError(err).Warn("Failed to start alert sound")
			return
		}
		a.playing = true
	case !on && a.playing:
		if err := a.audio.Stop(); err != nil {
			a.logger.WithError(err).Warn("Failed to stop alert sound")
		}
		a.playing = false
	}
}

func (a *Alarm) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}
