// Package migrate upgrades persisted world documents of any known version to
// the current model and repairs what the upgrades cannot guarantee.
package migrate

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tatianab/chronicle/internal/models"
)

// Repair records one change made by a repair pass.
type Repair struct {
	Pass   string `json:"pass" yaml:"pass"`
	Path   string `json:"path" yaml:"path"`
	Detail string `json:"detail" yaml:"detail"`
}

func (r Repair) String() string {
	return fmt.Sprintf("[%s] %s: %s", r.Pass, r.Path, r.Detail)
}

// Report describes what a migration did.
type Report struct {
	FromVersion int
	ToVersion   int
	Repairs     []Repair
}

// Changed reports whether the migrated document differs from its input.
func (r Report) Changed() bool {
	return r.FromVersion != r.ToVersion || len(r.Repairs) > 0
}

// Migrator runs the upgrade chain followed by the repair passes.
type Migrator struct {
	registry *Registry
	logger   *slog.Logger
}

// New returns a Migrator over registry. A nil registry means DefaultRegistry
// and a nil logger means slog.Default().
func New(registry *Registry, logger *slog.Logger) *Migrator {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{registry: registry, logger: logger}
}

// Migrate reads a document of any supported version into the current model.
// The input is never modified; on error nothing about it has changed.
func Migrate(doc models.RawDocument) (models.WorldState, []Repair, error) {
	s, report, err := New(nil, nil).Migrate(doc)
	return s, report.Repairs, err
}

// Migrate upgrades doc and repairs the result.
func (m *Migrator) Migrate(doc models.RawDocument) (models.WorldState, Report, error) {
	var report Report
	from, err := m.declaredVersion(doc)
	if err != nil {
		return models.WorldState{}, report, err
	}
	report.FromVersion = from
	report.ToVersion = m.registry.Current()

	path, err := m.registry.Path(from)
	if err != nil {
		return models.WorldState{}, report, err
	}

	work := doc.Clone()
	if work == nil {
		work = models.RawDocument{}
	}
	for i, upgrade := range path {
		// Each step gets its own copy so a step can rearrange its input freely.
		work = upgrade(work.Clone())
		m.logger.Debug("applied schema upgrade", "from", from+i, "to", from+i+1)
	}

	if _, ok := asMap(work["player"]); !ok {
		return models.WorldState{}, report, &CorruptedError{Reason: "player block is missing"}
	}

	coerced := coerceScalars(work, report.ToVersion)
	state, err := models.DecodeRaw(work)
	if err != nil {
		return models.WorldState{}, report, &CorruptedError{Reason: "document does not match the current model", Err: err}
	}

	report.Repairs = append(coerced, repair(&state)...)
	for _, r := range report.Repairs {
		m.logger.Info("repaired world document", "pass", r.Pass, "path", r.Path, "detail", r.Detail)
	}
	if err := state.Check(); err != nil {
		return models.WorldState{}, report, &CorruptedError{Reason: "invariants still violated after repair", Err: err}
	}
	return state, report, nil
}

// declaredVersion reads the version marker. Absent means oldest; both
// integers and strings like "3" or "v3" are accepted.
func (m *Migrator) declaredVersion(doc models.RawDocument) (int, error) {
	for _, key := range []string{"schema_version", "version"} {
		v, present := doc[key]
		if !present || v == nil {
			continue
		}
		if n, ok := parseVersion(v); ok {
			return n, nil
		}
		return 0, &UnsupportedVersionError{Declared: v, Current: m.registry.Current()}
	}
	return m.registry.Oldest(), nil
}

func parseVersion(v any) (int, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v")
		n, err := strconv.Atoi(s)
		return n, err == nil
	}
	f, ok := asNumber(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
