package badgerdb

import (
	"bytes"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	// Подготовка
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	db, err := Open(dir, logger)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	}))
	require.NoError(t, db.Close())

	// Действие
	db, err = Open(dir, logger)
	require.NoError(t, err)
	defer db.Close()

	// Проверки
	var got []byte
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		got, err = item.ValueCopy(nil)
		return err
	}))
	assert.Equal(t, "v", string(got))
}

func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.False(t, db.IsClosed())
}
