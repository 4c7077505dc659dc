package storage

import (
	"errors"
	"io/fs"
	"os"
)

// sqliteSidecars are the suffixes of files SQLite keeps next to the database in WAL mode.
var sqliteSidecars = []string{"", "-wal", "-shm", "-journal"}

// DiskUsageBytes returns the bytes a SQLite database occupies on disk, counting the
// database file and its WAL, shared-memory and rollback journal files. Missing files
// count as zero.
func DiskUsageBytes(dbPath string) (int64, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return 0, nil
	}
	var total int64
	for _, suffix := range sqliteSidecars {
		info, err := os.Stat(dbPath + suffix)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
		}
	}
	return total, nil
}
