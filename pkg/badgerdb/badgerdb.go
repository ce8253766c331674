package badgerdb

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// badgerLogger переводит внутренние сообщения badger на уровни logrus.
// Информационные сообщения badger пишутся как debug.
type badgerLogger struct {
	log *logrus.Entry
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// Open открывает хранилище в каталоге dir
func Open(dir string, log *logrus.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{log: log.WithField("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger at %s: %w", dir, err)
	}
	return db, nil
}

// OpenInMemory открывает хранилище без записи на диск
func OpenInMemory() (*badger.DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open in-memory badger: %w", err)
	}
	return db, nil
}
