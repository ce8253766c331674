package fieldclient

import (
	"sort"
	"sync"
	"time"

	"github.com/shenikar/falconwatch/internal/models"
)

// PresenceBoard - позиции других пользователей на клиенте.
// Применяется последнее полученное обновление по userId, номеров последовательности нет.
type PresenceBoard struct {
	mu      sync.RWMutex
	records map[int64]models.PresenceRecord
	now     func() time.Time
}

func NewPresenceBoard() *PresenceBoard {
	return &PresenceBoard{
		records: make(map[int64]models.PresenceRecord),
		now:     time.Now,
	}
}

// Apply применяет обновление позиции
func (b *PresenceBoard) Apply(update models.LocationUpdateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[update.UserID] = models.PresenceRecord{
		UserID:      update.UserID,
		DisplayName: update.UserName,
		LastKnownPosition: models.Coordinates{
			Latitude:  update.Latitude,
			Longitude: update.Longitude,
		},
		LastUpdateTime: b.now(),
	}
}

// Status обрабатывает onlineStatusUpdate: уход пользователя удаляет его маркер
func (b *PresenceBoard) Status(status models.OnlineStatusEvent) {
	if status.IsOnline {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, status.UserID)
}

// Reset заменяет содержимое снимком присутствия, полученным при подключении
func (b *PresenceBoard) Reset(snapshot []models.LocationUpdateEvent) {
	b.mu.Lock()
	b.records = make(map[int64]models.PresenceRecord, len(snapshot))
	b.mu.Unlock()
	for _, update := range snapshot {
		b.Apply(update)
	}
}

func (b *PresenceBoard) Get(userID int64) (models.PresenceRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.records[userID]
	return r, ok
}

// All возвращает записи по возрастанию userId
func (b *PresenceBoard) All() []models.PresenceRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.PresenceRecord, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
