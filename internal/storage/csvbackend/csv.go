package csvbackend

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

// csvBackend keeps two append-only CSV files: run snapshots and verdict rows.
// Readers replay them and keep the newest snapshot per run and the newest
// verdict generation per run.
type csvBackend struct {
	mu       sync.Mutex
	runs     *os.File
	verdicts *os.File
	lastGen  int64
}

// runHeaders defines the run CSV column order
var runHeaders = []string{
	"id",
	"job_id",
	"status",
	"requested",
	"accepted",
	"chunks_total",
	"chunks_appended",
	"config_json",
	"urls_json",
	"last_error",
	"created_at",
	"updated_at",
}

// verdictHeaders defines the verdict CSV column order
var verdictHeaders = []string{
	"run_id",
	"generation",
	"seq",
	"url",
	"indexed",
	"position",
}

// VerdictsPath returns the companion file used for verdict rows of runsPath.
func VerdictsPath(runsPath string) string {
	ext := filepath.Ext(runsPath)
	return strings.TrimSuffix(runsPath, ext) + "-verdicts" + ext
}

// New creates a new CSV-backed storage.Backend. Verdicts are written next to
// filePath, see VerdictsPath.
func New(filePath string) (storage.Backend, error) {
	runs, err := openWithHeader(filePath, runHeaders)
	if err != nil {
		return nil, err
	}
	verdicts, err := openWithHeader(VerdictsPath(filePath), verdictHeaders)
	if err != nil {
		runs.Close()
		return nil, err
	}
	return &csvBackend{runs: runs, verdicts: verdicts}, nil
}

func openWithHeader(path string, headers []string) (*os.File, error) {
	// Open file for appending, create if it doesn't exist
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return f, nil
}

func writeRecords(f *os.File, records [][]string) error {
	// Ensure we're at the end of the file for appending (just in case)
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

func (b *csvBackend) SaveRun(ctx context.Context, run *storage.Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	urlsJSON, err := json.Marshal(run.URLs)
	if err != nil {
		return fmt.Errorf("encode urls: %w", err)
	}

	record := []string{
		run.ID,
		run.JobID,
		string(run.Status),
		strconv.Itoa(run.Requested),
		strconv.Itoa(run.Accepted),
		strconv.Itoa(run.ChunksTotal),
		strconv.Itoa(run.ChunksAppended),
		string(cfgJSON),
		string(urlsJSON),
		run.LastError,
		run.CreatedAt.Format(time.RFC3339Nano),
		run.UpdatedAt.Format(time.RFC3339Nano),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return writeRecords(b.runs, [][]string{record})
}

func (b *csvBackend) SaveVerdicts(ctx context.Context, runID string, verdicts []storage.Verdict) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := time.Now().UnixNano()
	if gen <= b.lastGen {
		gen = b.lastGen + 1
	}
	b.lastGen = gen
	genStr := strconv.FormatInt(gen, 10)

	// An empty verdict set still needs a marker row so it replaces older sets.
	records := [][]string{{runID, genStr, "-1", "", "", ""}}
	for i, v := range verdicts {
		records = append(records, []string{
			runID,
			genStr,
			strconv.Itoa(i),
			v.URL,
			strconv.FormatBool(v.Indexed),
			strconv.Itoa(v.Position),
		})
	}
	return writeRecords(b.verdicts, records)
}

// readAll returns every data row of f, skipping the header. Must be called with lock held.
func readAll(f *os.File, width int) ([][]string, error) {
	// Seek to the beginning of the file to read all entries
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}
	defer func() {
		// Restore pointer to end for writing
		_, _ = f.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(record) != width {
			continue // skip malformed rows
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func (b *csvBackend) loadRuns() (map[string]*storage.Run, error) {
	b.mu.Lock()
	rows, err := readAll(b.runs, len(runHeaders))
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	runs := make(map[string]*storage.Run)
	for _, record := range rows {
		r := &storage.Run{
			ID:        record[0],
			JobID:     record[1],
			Status:    batch.JobStatus(record[2]),
			LastError: record[9],
		}
		r.Requested, _ = strconv.Atoi(record[3])
		r.Accepted, _ = strconv.Atoi(record[4])
		r.ChunksTotal, _ = strconv.Atoi(record[5])
		r.ChunksAppended, _ = strconv.Atoi(record[6])
		if err := json.Unmarshal([]byte(record[7]), &r.Config); err != nil {
			return nil, fmt.Errorf("decode config for run %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(record[8]), &r.URLs); err != nil {
			return nil, fmt.Errorf("decode urls for run %s: %w", r.ID, err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, record[10])
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, record[11])
		runs[r.ID] = r
	}
	return runs, nil
}

func (b *csvBackend) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	runs, err := b.loadRuns()
	if err != nil {
		return nil, err
	}
	r, ok := runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return r, nil
}

func (b *csvBackend) ListRuns(ctx context.Context, filter storage.Filter) ([]*storage.Run, error) {
	runs, err := b.loadRuns()
	if err != nil {
		return nil, err
	}

	var out []*storage.Run
	for _, r := range runs {
		if storage.MatchRun(r, filter) {
			out = append(out, r)
		}
	}
	// Order by created_at DESC
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return storage.Page(out, filter.Offset, filter.Limit), nil
}

func (b *csvBackend) QueryVerdicts(ctx context.Context, filter storage.VerdictFilter) ([]storage.Verdict, error) {
	b.mu.Lock()
	rows, err := readAll(b.verdicts, len(verdictHeaders))
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var (
		latest int64 = -1
		set    []storage.Verdict
	)
	for _, record := range rows {
		if record[0] != filter.RunID {
			continue
		}
		gen, err := strconv.ParseInt(record[1], 10, 64)
		if err != nil {
			continue
		}
		if gen > latest {
			latest = gen
			set = set[:0]
		}
		if gen != latest || record[2] == "-1" {
			continue
		}
		indexed, _ := strconv.ParseBool(record[4])
		position, _ := strconv.Atoi(record[5])
		set = append(set, storage.Verdict{URL: record[3], Indexed: indexed, Position: position})
	}
	return storage.FilterVerdicts(set, filter), nil
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.runs.Close(); err != nil {
		_ = b.verdicts.Close()
		return err
	}
	return b.verdicts.Close()
}
