package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trendoor/pkg/fsutil"
)

const (
	rowsFileName  = "rows.jsonl"
	indexFileName = "index.json"
)

// Index is the dedupe cache for the append log. It is advisory: when its
// fingerprint no longer matches rows.jsonl the run IDs are rebuilt by
// rescanning the log.
type Index struct {
	SchemaVersion int             `json:"schemaVersion"`
	RunIDs        map[string]bool `json:"runIds"`
	RowsMtimeNs   int64           `json:"rowsMtimeNs"`
	RowsSize      int64           `json:"rowsSize"`
}

// RowsPath returns the append-log path inside storeDir.
func RowsPath(storeDir string) string {
	return filepath.Join(storeDir, rowsFileName)
}

// IndexPath returns the index path inside storeDir.
func IndexPath(storeDir string) string {
	return filepath.Join(storeDir, indexFileName)
}

// rowsFingerprint stats rows.jsonl. A missing log reports a zero fingerprint.
func rowsFingerprint(storeDir string) (mtimeNs, size int64, err error) {
	info, err := os.Stat(RowsPath(storeDir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}

		return 0, 0, fmt.Errorf("stat rows log: %w", err)
	}

	return info.ModTime().UnixNano(), info.Size(), nil
}

// loadIndex returns the known run IDs for storeDir. When the index file is
// missing, unreadable, or stale against the current rows.jsonl fingerprint,
// the log is rescanned and the result reflects what is actually on disk.
func loadIndex(log logrus.FieldLogger, storeDir string) (map[string]bool, error) {
	mtimeNs, size, err := rowsFingerprint(storeDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(IndexPath(storeDir))
	if err == nil {
		var idx Index
		if jsonErr := json.Unmarshal(data, &idx); jsonErr == nil {
			if idx.RowsMtimeNs == mtimeNs && idx.RowsSize == size {
				if idx.RunIDs == nil {
					idx.RunIDs = map[string]bool{}
				}

				return idx.RunIDs, nil
			}

			log.WithField("path", IndexPath(storeDir)).Debug("Index fingerprint stale, rescanning rows log")
		} else {
			log.WithError(jsonErr).Warn("Index file unreadable, rescanning rows log")
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read index: %w", err)
	}

	runIDs, _, err := scanRunIDs(storeDir)
	if err != nil {
		return nil, err
	}

	return runIDs, nil
}

// scanRunIDs rebuilds the run ID set by reading every line of rows.jsonl.
// Malformed lines are skipped and counted rather than failing the scan.
func scanRunIDs(storeDir string) (map[string]bool, int, error) {
	runIDs := map[string]bool{}

	f, err := os.Open(RowsPath(storeDir))
	if err != nil {
		if os.IsNotExist(err) {
			return runIDs, 0, nil
		}

		return nil, 0, fmt.Errorf("open rows log: %w", err)
	}
	defer f.Close()

	invalid := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var row struct {
			RunID string `json:"runId"`
		}

		if err := json.Unmarshal(line, &row); err != nil || row.RunID == "" {
			invalid++

			continue
		}

		runIDs[row.RunID] = true
	}

	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan rows log: %w", err)
	}

	return runIDs, invalid, nil
}

// saveIndex writes the index with the current rows.jsonl fingerprint. The
// append must already be durable so the fingerprint covers the new rows.
func saveIndex(storeDir string, runIDs map[string]bool) error {
	mtimeNs, size, err := rowsFingerprint(storeDir)
	if err != nil {
		return err
	}

	idx := Index{
		SchemaVersion: SchemaVersion,
		RunIDs:        runIDs,
		RowsMtimeNs:   mtimeNs,
		RowsSize:      size,
	}

	if err := fsutil.WriteJSONAtomic(IndexPath(storeDir), idx); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	return nil
}
