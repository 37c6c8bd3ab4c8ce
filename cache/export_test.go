package cache

import "github.com/syndtr/goleveldb/leveldb/util"

func CorruptSQLiteForTest(s *SQLiteStorage, key Key) error {
	_, err := s.db.Exec("UPDATE responses SET bytes = ? WHERE key = ?", []byte("garbage"), key.String())
	return err
}

func CorruptLevelDBForTest(s *LevelDBStorage, key Key) error {
	it := s.db.NewIterator(util.BytesPrefix(keyPrefix(key)), nil)
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	it.Release()
	for _, k := range keys {
		if err := s.db.Put(k, []byte("garbage"), nil); err != nil {
			return err
		}
	}
	return it.Error()
}

func SQLiteBusyTimeoutForTest(s *SQLiteStorage) (int, error) {
	var ms int
	err := s.db.QueryRow("PRAGMA busy_timeout").Scan(&ms)
	return ms, err
}
