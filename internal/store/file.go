package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/tatianab/chronicle/internal/models"
)

const (
	worldFile    = "world.yaml"
	lastGoodFile = "last_good.yaml.zst"

	// Saves from before documents were versioned split the session across
	// three files and kept the world description alone in world.yaml.
	legacyStateFile   = "state.yaml"
	legacyHistoryFile = "history.yaml"
)

// FileStore keeps each slot in its own directory under Dir as YAML.
type FileStore struct {
	Dir string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) slotDir(slot string) string {
	return filepath.Join(s.Dir, slot)
}

func (s *FileStore) Load(ctx context.Context, slot string) (models.RawDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidSlot(slot); err != nil {
		return nil, err
	}
	dir := s.slotDir(slot)
	if fileExists(filepath.Join(dir, legacyStateFile)) {
		return loadLegacy(dir)
	}
	data, err := os.ReadFile(filepath.Join(dir, worldFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.In("store").Wrapf(err, "read slot %s", slot)
	}
	return decodeYAML(data, slot)
}

// loadLegacy stitches the three legacy files into one unversioned document.
func loadLegacy(dir string) (models.RawDocument, error) {
	doc := models.RawDocument{}
	for key, name := range map[string]string{
		"world":   worldFile,
		"state":   legacyStateFile,
		"history": legacyHistoryFile,
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, oops.In("store").Wrapf(err, "read legacy %s", name)
		}
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, oops.In("store").Wrapf(err, "parse legacy %s", name)
		}
		if v != nil {
			doc[key] = v
		}
	}
	return doc, nil
}

func (s *FileStore) Save(ctx context.Context, slot string, doc models.RawDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidSlot(slot); err != nil {
		return err
	}
	dir := s.slotDir(slot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return oops.In("store").Wrapf(err, "create slot %s", slot)
	}

	data, err := yaml.Marshal(map[string]any(doc))
	if err != nil {
		return oops.In("store").Wrapf(err, "encode slot %s", slot)
	}

	legacy := fileExists(filepath.Join(dir, legacyStateFile))
	var prev []byte
	if legacy {
		old, err := loadLegacy(dir)
		if err != nil {
			return err
		}
		if prev, err = yaml.Marshal(map[string]any(old)); err != nil {
			return oops.In("store").Wrapf(err, "encode legacy slot %s", slot)
		}
	} else {
		prev, err = os.ReadFile(filepath.Join(dir, worldFile))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return oops.In("store").Wrapf(err, "read slot %s", slot)
		}
	}
	if len(prev) > 0 {
		if err := writeCompressed(filepath.Join(dir, lastGoodFile), prev); err != nil {
			return oops.In("store").Wrapf(err, "keep last good snapshot of %s", slot)
		}
	}

	if err := writeAtomic(filepath.Join(dir, worldFile), data); err != nil {
		return oops.In("store").Wrapf(err, "write slot %s", slot)
	}
	if legacy {
		_ = os.Remove(filepath.Join(dir, legacyStateFile))
		_ = os.Remove(filepath.Join(dir, legacyHistoryFile))
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, slot string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidSlot(slot); err != nil {
		return err
	}
	dir := s.slotDir(slot)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return oops.In("store").Wrapf(err, "delete slot %s", slot)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]SlotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []SlotInfo{}, nil
	}
	if err != nil {
		return nil, oops.In("store").Wrapf(err, "list %s", s.Dir)
	}

	slots := []SlotInfo{}
	for _, entry := range entries {
		if !entry.IsDir() || ValidSlot(entry.Name()) != nil {
			continue
		}
		// world.yaml marks a valid slot, legacy or not.
		info, err := os.Stat(filepath.Join(s.Dir, entry.Name(), worldFile))
		if err != nil {
			continue
		}
		slots = append(slots, SlotInfo{
			Slot:        entry.Name(),
			UpdatedAt:   info.ModTime().UTC(),
			HasLastGood: fileExists(filepath.Join(s.Dir, entry.Name(), lastGoodFile)),
		})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Slot < slots[j].Slot })
	return slots, nil
}

func (s *FileStore) LoadLastGood(ctx context.Context, slot string) (models.RawDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidSlot(slot); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.slotDir(slot), lastGoodFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.In("store").Wrapf(err, "open last good snapshot of %s", slot)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, oops.In("store").Wrapf(err, "open last good snapshot of %s", slot)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, oops.In("store").Wrapf(err, "decompress last good snapshot of %s", slot)
	}
	return decodeYAML(data, slot)
}

func decodeYAML(data []byte, slot string) (models.RawDocument, error) {
	var doc models.RawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, oops.In("store").Wrapf(err, "parse slot %s", slot)
	}
	if doc == nil {
		doc = models.RawDocument{}
	}
	return doc, nil
}

// writeAtomic writes data next to path and renames it into place, so readers
// see either the old file or the new one.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeCompressed(path string, data []byte) error {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return writeAtomic(path, buf.Bytes())
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
