package fieldclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/shenikar/falconwatch/internal/models"
	"github.com/sirupsen/logrus"
)

// PositionWatcher читает позиции устройства построчно в формате "lat,lng".
// Заменяет геолокацию браузера: источником может быть stdin, gpsd-пайп или файл.
type PositionWatcher struct {
	r      io.Reader
	logger *logrus.Logger

	mu          sync.RWMutex
	last        models.Coordinates
	known       bool
	subscribers []func(models.Coordinates)
	other       func(line string)
}

func NewPositionWatcher(r io.Reader, logger *logrus.Logger) *PositionWatcher {
	return &PositionWatcher{r: r, logger: logger}
}

// Subscribe регистрирует получателя новых позиций. Вызывать до Serve.
func (w *PositionWatcher) Subscribe(fn func(models.Coordinates)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// HandleOther получает строки, не похожие на позицию (команды консоли). Вызывать до Serve.
func (w *PositionWatcher) HandleOther(fn func(line string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.other = fn
}

// Position возвращает последнюю известную позицию
func (w *PositionWatcher) Position() (models.Coordinates, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last, w.known
}

// Serve читает позиции до конца потока или отмены контекста.
// После отмены позиции больше не публикуются, даже если чтение еще заблокировано.
func (w *PositionWatcher) Serve(ctx context.Context) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(w.r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("fieldclient: read positions: %w", err)
			}
			w.logger.Info("Position stream ended")
			<-ctx.Done()
			return ctx.Err()
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			if other := w.otherHandler(); other != nil && !looksLikePosition(line) {
				other(line)
				continue
			}
			position, err := ParsePosition(line)
			if err != nil {
				w.logger.WithError(err).WithField("line", line).Warn("Ignoring invalid position")
				continue
			}
			w.publish(position)
		}
	}
}

func (w *PositionWatcher) otherHandler() func(string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.other
}

// looksLikePosition - строка начинается с цифры или знака числа
func looksLikePosition(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	switch c := line[0]; {
	case c >= '0' && c <= '9', c == '-', c == '+', c == '.':
		return true
	}
	return false
}

func (w *PositionWatcher) publish(position models.Coordinates) {
	w.mu.Lock()
	w.last = position
	w.known = true
	subscribers := append([]func(models.Coordinates){}, w.subscribers...)
	w.mu.Unlock()

	for _, fn := range subscribers {
		fn(position)
	}
}

// ParsePosition разбирает строку "lat,lng"
func ParsePosition(line string) (models.Coordinates, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 2 {
		return models.Coordinates{}, fmt.Errorf("%w: position must be \"lat,lng\"", models.ErrValidation)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: latitude: %v", models.ErrValidation, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: longitude: %v", models.ErrValidation, err)
	}
	position := models.Coordinates{Latitude: lat, Longitude: lng}
	if err := position.Validate(); err != nil {
		return models.Coordinates{}, err
	}
	return position, nil
}
