package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/anqueue/anqueue/internal/logger"
)

// JSONLAdapter persists rows one per line in a JSONL file, rewritten
// atomically on every mutation. It is the reference adapter: no database is
// required to run a queue, and it doubles as the fixture backend for tests.
type JSONLAdapter struct {
	mu       sync.Mutex
	filePath string
	log      *logger.Logger
}

// NewJSONLAdapter creates an adapter backed by a single file. The parent
// directory is created on first write if it does not exist.
func NewJSONLAdapter(filePath string, log *logger.Logger) *JSONLAdapter {
	return &JSONLAdapter{filePath: filePath, log: log}
}

func (a *JSONLAdapter) load() ([]*Row, error) {
	f, err := os.Open(a.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []*Row
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			a.log.Warn("skipping malformed row", logger.Field{Key: "file", Value: a.filePath})
			continue
		}
		rows = append(rows, &row)
	}
	return rows, scanner.Err()
}

func (a *JSONLAdapter) save(rows []*Row) error {
	if err := os.MkdirAll(filepath.Dir(a.filePath), 0o755); err != nil {
		return err
	}
	tmpPath := a.filePath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return os.Rename(tmpPath, a.filePath)
}

func matches(row *Row, where Where) bool {
	for k, v := range where {
		if k == "uid" {
			if row.UID != v {
				return false
			}
			continue
		}
		if k == "userId" {
			if row.UserID != v {
				return false
			}
			continue
		}
		if k == "status" {
			if row.Status != v {
				return false
			}
			continue
		}
	}
	return true
}

func (a *JSONLAdapter) FindFirst(_ context.Context, where Where) (*Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.load()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if matches(row, where) {
			return row, nil
		}
	}
	return nil, ErrNotFound
}

func (a *JSONLAdapter) FindMany(_ context.Context, where Where) ([]*Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.load()
	if err != nil {
		return nil, err
	}
	var out []*Row
	for _, row := range rows {
		if matches(row, where) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (a *JSONLAdapter) Create(_ context.Context, row *Row) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.load()
	if err != nil {
		return err
	}
	for _, existing := range rows {
		if existing.UID == row.UID {
			return ErrUniqueConflict
		}
	}
	rows = append(rows, row)
	return a.save(rows)
}

func (a *JSONLAdapter) Update(_ context.Context, where Where, patch *Row) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.load()
	if err != nil {
		return err
	}
	found := false
	for i, row := range rows {
		if matches(row, where) {
			rows[i] = patch
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	return a.save(rows)
}

func (a *JSONLAdapter) Delete(_ context.Context, where Where) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.load()
	if err != nil {
		return err
	}
	var kept []*Row
	found := false
	for _, row := range rows {
		if matches(row, where) {
			found = true
			continue
		}
		kept = append(kept, row)
	}
	if !found {
		return ErrNotFound
	}
	return a.save(kept)
}

// Upsert tries Create first; on ErrUniqueConflict it falls back to
// Update(where, update) and returns the updated row.
func (a *JSONLAdapter) Upsert(ctx context.Context, where Where, update, create *Row) (*Row, error) {
	if err := a.Create(ctx, create); err == nil {
		return create, nil
	} else if !errors.Is(err, ErrUniqueConflict) {
		return nil, err
	}
	if err := a.Update(ctx, where, update); err != nil {
		return nil, err
	}
	return update, nil
}
