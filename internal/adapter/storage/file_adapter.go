package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/orderledger/internal/core/domain"
)

// FileAdapter persists the ledger as one JSON document. Writes go to a
// temporary file in the same directory followed by a rename, so readers
// never observe a half-written ledger.
type FileAdapter struct {
	path string
	mu   sync.Mutex
}

func NewFileAdapter(path string) *FileAdapter {
	return &FileAdapter{path: path}
}

func (f *FileAdapter) Load(ctx context.Context) (*domain.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *FileAdapter) load() (*domain.Ledger, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		// First-ever run. Only an absent file may legitimately be treated
		// as empty; anything unreadable is corruption.
		return domain.NewLedger(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrCorruptLedger, f.path, err)
	}

	var ledger domain.Ledger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrCorruptLedger, f.path, err)
	}
	if ledger.Groups == nil {
		ledger.Groups = make(map[string]*domain.Group)
	}
	return &ledger, nil
}

func (f *FileAdapter) Save(ctx context.Context, l *domain.Ledger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(l)
}

func (f *FileAdapter) save(l *domain.Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("swap ledger: %w", err)
	}
	return nil
}

// Mutate is the single-writer read-modify-write cycle. Concurrent readers
// may see a slightly stale snapshot but never a partial one.
func (f *FileAdapter) Mutate(ctx context.Context, fn func(*domain.Ledger) error) (*domain.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ledger, err := f.load()
	if err != nil {
		return nil, err
	}
	if err := fn(ledger); err != nil {
		return nil, err
	}
	if err := f.save(ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}
