package root

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/chronicle/internal/models"
	"github.com/tatianab/chronicle/internal/store"
)

func setup(t *testing.T) *store.FileStore {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CHRONICLE_SAVE_DIR", dir)
	t.Setenv("CHRONICLE_STORE", "file")
	t.Setenv("CHRONICLE_LIMITS_FILE", "")
	return store.NewFileStore(dir)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func legacy() models.RawDocument {
	return models.RawDocument{
		"world": map[string]any{"title": "The Hidden Manor"},
		"state": map[string]any{
			"current_location": "Gate",
			"inventory":        []any{"rope"},
			"stats":            map[string]any{"courage": "3"},
			"health":           "90",
		},
	}
}

func TestMigrateCommand(t *testing.T) {
	st := setup(t)
	require.NoError(t, st.Save(context.Background(), "manor", legacy()))

	out, err := run(t, "migrate", "manor", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "manor: schema v1 -> v4")
	assert.Contains(t, out, "dry run")
	raw, err := st.Load(context.Background(), "manor")
	require.NoError(t, err)
	assert.NotContains(t, raw, "schema_version")

	out, err = run(t, "migrate", "manor")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated")

	out, err = run(t, "migrate", "manor")
	require.NoError(t, err)
	assert.Contains(t, out, "manor: schema v4 -> v4, 0 repairs")
	assert.Contains(t, out, "already current")
}

func TestMigrateCommandReportsUnsupportedVersion(t *testing.T) {
	st := setup(t)
	require.NoError(t, st.Save(context.Background(), "future", models.RawDocument{"schema_version": 42, "player": map[string]any{"name": "Wren"}}))

	_, err := run(t, "migrate", "future")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNSUPPORTED_VERSION")
}

func TestInspectCommand(t *testing.T) {
	st := setup(t)
	require.NoError(t, st.Save(context.Background(), "manor", legacy()))

	out, err := run(t, "inspect", "manor", "--format", "json")
	require.NoError(t, err)
	var state models.WorldState
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, "The Hidden Manor", state.World.Title)
	assert.Equal(t, models.CurrentSchemaVersion, state.SchemaVersion)

	out, err = run(t, "inspect", "manor")
	require.NoError(t, err)
	assert.Contains(t, out, "title: The Hidden Manor")

	_, err = run(t, "inspect", "manor", "--format", "toml")
	assert.Error(t, err)

	raw, err := st.Load(context.Background(), "manor")
	require.NoError(t, err)
	assert.NotContains(t, raw, "schema_version", "inspect never writes")
}

func TestSlotCommands(t *testing.T) {
	st := setup(t)
	ctx := context.Background()

	out, err := run(t, "slots")
	require.NoError(t, err)
	assert.Contains(t, out, "no saved worlds")

	first := models.RawDocument{"schema_version": 4, "player": map[string]any{"name": "Wren"}}
	second := models.RawDocument{"schema_version": 4, "player": map[string]any{"name": "Ash"}}
	require.NoError(t, st.Save(ctx, "main", first))
	require.NoError(t, st.Save(ctx, "main", second))

	out, err = run(t, "slots")
	require.NoError(t, err)
	assert.Contains(t, out, "main")
	assert.Contains(t, out, "(restorable)")

	out, err = run(t, "restore", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "restored main")
	raw, err := st.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "Wren", raw["player"].(map[string]any)["name"])

	out, err = run(t, "delete", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted main")

	_, err = run(t, "delete", "main")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPlayNeedsAnAPIKey(t *testing.T) {
	setup(t)
	t.Setenv("GEMINI_API_KEY", "")
	_, err := run(t, "play")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}
