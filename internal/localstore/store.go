package localstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/shenikar/falconwatch/internal/models"
)

const (
	ackKeyPrefix    = "ack:"
	filterKeyPrefix = "filter:"
)

// ownerKey формирует ключ записи для пары устройство/пользователь
func ownerKey(prefix, deviceID string, userID int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%d", prefix, deviceID, userID))
}

// AckStore хранит множество подтвержденных инцидентов.
// Операции снятия подтверждения нет.
type AckStore struct {
	db  *badger.DB
	key []byte
}

func NewAckStore(db *badger.DB, deviceID string, userID int64) *AckStore {
	return &AckStore{db: db, key: ownerKey(ackKeyPrefix, deviceID, userID)}
}

// Load возвращает сохраненные подтверждения. Отсутствие записи - пустое множество.
func (s *AckStore) Load(ctx context.Context) (map[int64]struct{}, error) {
	var ids []int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ids, err = readAcks(txn, s.key)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// Add добавляет подтверждение в одной транзакции. Повторное добавление ничего не меняет.
func (s *AckStore) Add(ctx context.Context, id int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		ids, err := readAcks(txn, s.key)
		if err != nil {
			return err
		}
		for _, existing := range ids {
			if existing == id {
				return nil
			}
		}
		ids = append(ids, id)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		data, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("marshal acknowledgments: %w", err)
		}
		if err := txn.Set(s.key, data); err != nil {
			return fmt.Errorf("set acknowledgments: %w", err)
		}
		return nil
	})
}

func readAcks(txn *badger.Txn, key []byte) ([]int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get acknowledgments: %w", err)
	}

	var ids []int64
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ids)
	}); err != nil {
		return nil, fmt.Errorf("decode acknowledgments: %w", err)
	}
	return ids, nil
}

// filterRecord - сохраняемое представление FilterState
type filterRecord struct {
	SelectedCategories []string             `json:"selected_categories"`
	SortCategory       string               `json:"sort_category"`
	SortTimeOrder      models.SortTimeOrder `json:"sort_time_order"`
	Customized         bool                 `json:"customized"`
}

// FilterStore хранит настройки фильтрации
type FilterStore struct {
	db  *badger.DB
	key []byte
}

func NewFilterStore(db *badger.DB, deviceID string, userID int64) *FilterStore {
	return &FilterStore{db: db, key: ownerKey(filterKeyPrefix, deviceID, userID)}
}

// Load возвращает сохраненное состояние; found=false, если пользователь еще ничего не сохранял
func (s *FilterStore) Load(ctx context.Context) (state models.FilterState, found bool, err error) {
	var rec filterRecord
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get filter state: %w", err)
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return models.FilterState{}, false, err
	}
	if !found {
		return models.FilterState{}, false, nil
	}

	state = models.NewFilterState(rec.SelectedCategories...)
	state.SortCategory = rec.SortCategory
	state.Customized = rec.Customized
	if rec.SortTimeOrder == models.SortOldest {
		state.SortTimeOrder = models.SortOldest
	}
	return state, true, nil
}

// Save сохраняет состояние целиком
func (s *FilterStore) Save(ctx context.Context, state models.FilterState) error {
	categories := state.Categories()
	sort.Strings(categories)
	data, err := json.Marshal(filterRecord{
		SelectedCategories: categories,
		SortCategory:       state.SortCategory,
		SortTimeOrder:      state.SortTimeOrder,
		Customized:         state.Customized,
	})
	if err != nil {
		return fmt.Errorf("marshal filter state: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, data)
	})
}
