package storage

import (
	"os"
)

// DatabaseFiles returns the paths SQLite may use for the database at dbPath,
// including its write-ahead log and shared-memory files.
func DatabaseFiles(dbPath string) []string {
	if dbPath == "" || dbPath == ":memory:" {
		return nil
	}
	return []string{dbPath, dbPath + "-wal", dbPath + "-shm"}
}

// DiskUsageBytes returns the total size in bytes of the given files.
// Missing files contribute 0; other stat errors are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
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
