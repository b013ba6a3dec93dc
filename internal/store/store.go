// Package store persists world documents by slot. Stores treat documents as
// opaque maps; reading them into the model is the migrator's job.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tatianab/chronicle/internal/models"
)

var (
	// ErrNotFound means the slot holds no document.
	ErrNotFound = errors.New("slot not found")
	// ErrInvalidSlot means the slot name cannot be used as a key.
	ErrInvalidSlot = errors.New("invalid slot name")
)

// Store is a flat slot -> document map. Every Save replaces the whole
// document and keeps the replaced one as the slot's last good snapshot until
// the next Save succeeds.
type Store interface {
	Load(ctx context.Context, slot string) (models.RawDocument, error)
	Save(ctx context.Context, slot string, doc models.RawDocument) error
	Delete(ctx context.Context, slot string) error
	List(ctx context.Context) ([]SlotInfo, error)
	LoadLastGood(ctx context.Context, slot string) (models.RawDocument, error)
}

// SlotInfo describes one stored slot.
type SlotInfo struct {
	Slot        string
	UpdatedAt   time.Time
	HasLastGood bool
}

var slotPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidSlot reports whether slot is usable as a directory name and key.
func ValidSlot(slot string) error {
	if !slotPattern.MatchString(slot) || slot == "." || slot == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return nil
}

// Restore makes the slot's last good snapshot current again. The document
// being replaced becomes the new last good snapshot.
func Restore(ctx context.Context, s Store, slot string) error {
	prev, err := s.LoadLastGood(ctx, slot)
	if err != nil {
		return err
	}
	return s.Save(ctx, slot, prev)
}

// Kind selects a Store implementation.
type Kind string

const (
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
	KindMemory Kind = "memory"
)

// Open returns the store of the given kind. dir is used by the file store and
// path by the sqlite store.
func Open(kind Kind, dir, path string) (Store, error) {
	switch kind {
	case KindFile, "":
		return NewFileStore(dir), nil
	case KindSQLite:
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case KindMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store kind %q", kind)
}
