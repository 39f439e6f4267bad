package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/FranksOps/indexcheck/internal/storage"
)

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

// record is one line of the append-only log. The latest record for a run id
// (or verdict set) wins on replay.
type record struct {
	Kind     string            `json:"kind"`
	Run      *storage.Run      `json:"run,omitempty"`
	RunID    string            `json:"run_id,omitempty"`
	Verdicts []storage.Verdict `json:"verdicts,omitempty"`
}

const (
	kindRun      = "run"
	kindVerdicts = "verdicts"
)

type jsonBackend struct {
	mu   sync.Mutex
	file *os.File
}

// New creates a new NDJSON-backed storage.Backend.
func New(filePath string) (storage.Backend, error) {
	// Open file for appending, create if it doesn't exist
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}

	return &jsonBackend{
		file: f,
	}, nil
}

func (b *jsonBackend) append(rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", rec.Kind, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s record: %w", rec.Kind, err)
	}
	return nil
}

func (b *jsonBackend) SaveRun(ctx context.Context, run *storage.Run) error {
	return b.append(record{Kind: kindRun, Run: run})
}

func (b *jsonBackend) SaveVerdicts(ctx context.Context, runID string, verdicts []storage.Verdict) error {
	if verdicts == nil {
		verdicts = []storage.Verdict{}
	}
	return b.append(record{Kind: kindVerdicts, RunID: runID, Verdicts: verdicts})
}

// replay reads the whole log and returns the latest run snapshot and verdict
// set per run id.
func (b *jsonBackend) replay() (map[string]*storage.Run, map[string][]storage.Verdict, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Seek to the beginning of the file to read all entries
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("seek state file: %w", err)
	}
	defer func() {
		// Restore pointer to end for writing
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	runs := make(map[string]*storage.Run)
	verdicts := make(map[string][]storage.Verdict)

	scanner := bufio.NewScanner(b.file)
	// A run snapshot carries its whole URL list on one line.
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, nil, fmt.Errorf("decode state record: %w", err)
		}

		switch rec.Kind {
		case kindRun:
			if rec.Run != nil {
				runs[rec.Run.ID] = rec.Run
			}
		case kindVerdicts:
			verdicts[rec.RunID] = rec.Verdicts
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read state file: %w", err)
	}
	return runs, verdicts, nil
}

func (b *jsonBackend) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	runs, _, err := b.replay()
	if err != nil {
		return nil, err
	}
	r, ok := runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return r, nil
}

func (b *jsonBackend) ListRuns(ctx context.Context, filter storage.Filter) ([]*storage.Run, error) {
	runs, _, err := b.replay()
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

func (b *jsonBackend) QueryVerdicts(ctx context.Context, filter storage.VerdictFilter) ([]storage.Verdict, error) {
	_, verdicts, err := b.replay()
	if err != nil {
		return nil, err
	}
	return storage.FilterVerdicts(verdicts[filter.RunID], filter), nil
}

func (b *jsonBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
