package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
)

// FileBackend keeps one JSON document per slot in dir. Writes go to a temp
// file in the same directory and are renamed over the slot file, so readers
// see the whole old document or the whole new one.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("store: empty state directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

// Path returns the canonical document for slot.
func (f *FileBackend) Path(slot Slot) string {
	return filepath.Join(f.dir, string(slot)+"_state.json")
}

func (f *FileBackend) Load(ctx context.Context, slot Slot) (messages.Estimate, error) {
	if err := ctx.Err(); err != nil {
		return messages.Estimate{}, err
	}
	raw, err := os.ReadFile(f.Path(slot))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return messages.Estimate{}, ErrSlotNotFound
		}
		return messages.Estimate{}, err
	}
	var rec messages.Estimate
	if err := json.Unmarshal(raw, &rec); err != nil {
		return messages.Estimate{}, fmt.Errorf("%w: %v", ErrSlotCorrupt, err)
	}
	return rec, nil
}

func (f *FileBackend) Save(ctx context.Context, slot Slot, rec messages.Estimate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, "."+string(slot)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	// on any failure the canonical file is untouched; drop the temp
	cleanup := func(e error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return e
	}

	if _, err := tmp.Write(raw); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.Path(slot)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }
