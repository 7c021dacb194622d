package store

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trendoor/pkg/fsutil"
)

// Store is the durable, idempotent result store. Every mutation runs under an
// exclusive file lock on the store directory so concurrent ingesters and the
// retention pruner serialize against each other.
type Store interface {
	// Ingest parses one raw result file and appends its normalized rows to
	// the store. Re-ingesting the same result is a no-op.
	Ingest(resultPath, revision, commitTimestamp string) (*IngestResult, error)
	// ReadRows returns every valid row in the append log along with the
	// count of malformed lines that were skipped.
	ReadRows() ([]Row, int, error)
	// RemoveRuns rewrites the append log without the given run IDs.
	RemoveRuns(runIDs map[string]bool) (removed int, err error)
	// PruneRuns reads the rows, asks selectFn which run IDs to drop, and
	// rewrites the log without them, all inside a single lock acquisition
	// so candidate selection cannot observe a concurrent ingest. When
	// apply is false the selection still runs under the lock and nothing
	// is rewritten.
	PruneRuns(apply bool, selectFn func(rows []Row) map[string]bool) (removed, invalid int, err error)
}

// IngestResult reports what one Ingest call did.
type IngestResult struct {
	RunID        string `json:"runId"`
	RowsAppended int    `json:"rowsAppended"`
	Deduped      bool   `json:"deduped"`
}

type resultStore struct {
	log      logrus.FieldLogger
	storeDir string
	now      func() time.Time
}

var _ Store = (*resultStore)(nil)

// NewStore creates a result store rooted at storeDir.
func NewStore(log logrus.FieldLogger, storeDir string) Store {
	return &resultStore{
		log:      log.WithField("component", "store"),
		storeDir: storeDir,
		now:      time.Now,
	}
}

func (s *resultStore) Ingest(resultPath, revision, commitTimestamp string) (*IngestResult, error) {
	raw, err := os.ReadFile(resultPath)
	if err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}

	var payload RawPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse result file %s: %w", resultPath, err)
	}

	if len(payload.Cases) == 0 {
		return nil, fmt.Errorf("result file %s has no cases", resultPath)
	}

	runID := DeriveRunID(revision, commitTimestamp, payload.Context, raw)

	lock, err := AcquireLock(s.storeDir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	runIDs, err := loadIndex(s.log, s.storeDir)
	if err != nil {
		return nil, err
	}

	if runIDs[runID] {
		s.log.WithFields(logrus.Fields{
			"run_id":   runID,
			"revision": revision,
		}).Info("Result already ingested, skipping")

		return &IngestResult{RunID: runID, Deduped: true}, nil
	}

	ingestedAt := s.now().UTC().Format(time.RFC3339)
	lines := make([][]byte, 0, len(payload.Cases))

	for _, c := range payload.Cases {
		row := normalizeRow(runID, ingestedAt, revision, commitTimestamp, resultPath, payload.Context, c)

		line, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode row: %w", err)
		}

		lines = append(lines, line)
	}

	if err := fsutil.AppendLinesSync(RowsPath(s.storeDir), lines); err != nil {
		return nil, fmt.Errorf("append rows: %w", err)
	}

	runIDs[runID] = true
	if err := saveIndex(s.storeDir, runIDs); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"run_id":   runID,
		"revision": revision,
		"rows":     len(lines),
	}).Info("Ingested benchmark result")

	return &IngestResult{RunID: runID, RowsAppended: len(lines)}, nil
}

func (s *resultStore) ReadRows() ([]Row, int, error) {
	f, err := os.Open(RowsPath(s.storeDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}

		return nil, 0, fmt.Errorf("open rows log: %w", err)
	}
	defer f.Close()

	var rows []Row

	invalid := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var row Row
		if err := json.Unmarshal(line, &row); err != nil || row.RunID == "" || row.Case == "" {
			invalid++

			continue
		}

		rows = append(rows, row)
	}

	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan rows log: %w", err)
	}

	if invalid > 0 {
		s.log.WithField("invalid_lines", invalid).Warn("Skipped malformed rows while reading store")
	}

	return rows, invalid, nil
}

func (s *resultStore) RemoveRuns(drop map[string]bool) (int, error) {
	lock, err := AcquireLock(s.storeDir)
	if err != nil {
		return 0, err
	}
	defer lock.Release()

	rows, _, err := s.ReadRows()
	if err != nil {
		return 0, err
	}

	return s.rewriteWithout(rows, drop)
}

func (s *resultStore) PruneRuns(apply bool, selectFn func(rows []Row) map[string]bool) (int, int, error) {
	lock, err := AcquireLock(s.storeDir)
	if err != nil {
		return 0, 0, err
	}
	defer lock.Release()

	rows, invalid, err := s.ReadRows()
	if err != nil {
		return 0, invalid, err
	}

	drop := selectFn(rows)
	if !apply || len(drop) == 0 {
		return 0, invalid, nil
	}

	removed, err := s.rewriteWithout(rows, drop)

	return removed, invalid, err
}

// rewriteWithout replaces the rows log and index with everything not in
// drop. The caller must hold the store lock.
func (s *resultStore) rewriteWithout(rows []Row, drop map[string]bool) (int, error) {
	kept := make([][]byte, 0, len(rows))
	keptIDs := map[string]bool{}
	removed := 0

	for _, row := range rows {
		if drop[row.RunID] {
			removed++

			continue
		}

		line, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("encode row: %w", err)
		}

		kept = append(kept, line)
		keptIDs[row.RunID] = true
	}

	if removed == 0 {
		return 0, nil
	}

	var buf []byte
	for _, line := range kept {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	if err := fsutil.WriteFileAtomic(RowsPath(s.storeDir), buf, 0o644); err != nil {
		return 0, fmt.Errorf("rewrite rows log: %w", err)
	}

	if err := saveIndex(s.storeDir, keptIDs); err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"removed_rows": removed,
		"kept_runs":    len(keptIDs),
	}).Info("Pruned store rows")

	return removed, nil
}

// DeriveRunID computes the stable identity of one benchmark run. Any change
// to the payload bytes, the revision, or the run context yields a new ID.
func DeriveRunID(revision, commitTimestamp string, ctx RawContext, rawPayload []byte) string {
	payloadDigest := sha256.Sum256(rawPayload)

	h := sha256.New()
	for _, part := range []string{
		revision,
		commitTimestamp,
		ctx.CreatedAt,
		ctx.Suite,
		ctx.Scale,
		ctx.Label,
		hex.EncodeToString(payloadDigest[:]),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
