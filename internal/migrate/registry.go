package migrate

import (
	"fmt"

	"github.com/tatianab/chronicle/internal/models"
)

// UpgradeFunc transforms a document of version N into version N+1. It must be
// total: the input is only as well formed as version N guaranteed, and real
// saves drift. Upgrades are structural only; referential repair happens once,
// after the whole chain, in the repair passes.
type UpgradeFunc func(models.RawDocument) models.RawDocument

// Registry holds one upgrade per source version.
type Registry struct {
	oldest   int
	upgrades map[int]UpgradeFunc
}

// NewRegistry returns an empty registry whose oldest known version is oldest.
// Documents without a version marker are read as that version.
func NewRegistry(oldest int) *Registry {
	return &Registry{oldest: oldest, upgrades: make(map[int]UpgradeFunc)}
}

// Register adds the upgrade from version from to from+1. Registering the same
// version twice or a version below the oldest is a programming error.
func (r *Registry) Register(from int, fn UpgradeFunc) {
	if from < r.oldest {
		panic(fmt.Sprintf("migrate: upgrade from %d is older than oldest version %d", from, r.oldest))
	}
	if _, dup := r.upgrades[from]; dup {
		panic(fmt.Sprintf("migrate: upgrade from %d registered twice", from))
	}
	r.upgrades[from] = fn
}

// Oldest is the version assumed for unmarked documents.
func (r *Registry) Oldest() int { return r.oldest }

// Current is one past the highest contiguous upgrade starting at Oldest.
func (r *Registry) Current() int {
	v := r.oldest
	for {
		if _, ok := r.upgrades[v]; !ok {
			return v
		}
		v++
	}
}

// Versions lists every version a document can be read from, ascending.
func (r *Registry) Versions() []int {
	out := []int{}
	for v := r.oldest; v <= r.Current(); v++ {
		out = append(out, v)
	}
	return out
}

// Path returns the upgrades to apply, in order, to bring a document of
// version from up to Current. Versions are never skipped.
func (r *Registry) Path(from int) ([]UpgradeFunc, error) {
	current := r.Current()
	if from < r.oldest || from > current {
		return nil, &UnsupportedVersionError{Declared: from, Current: current}
	}
	path := make([]UpgradeFunc, 0, current-from)
	for v := from; v < current; v++ {
		path = append(path, r.upgrades[v])
	}
	return path, nil
}

// DefaultRegistry knows every shape the save format has had.
func DefaultRegistry() *Registry {
	r := NewRegistry(1)
	r.Register(1, upgradeV1)
	r.Register(2, upgradeV2)
	r.Register(3, upgradeV3)
	if r.Current() != models.CurrentSchemaVersion {
		panic(fmt.Sprintf("migrate: registry ends at %d, model is %d", r.Current(), models.CurrentSchemaVersion))
	}
	return r
}
