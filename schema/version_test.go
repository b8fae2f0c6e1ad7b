package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/schema"
)

// scriptRecorder records executed migration scripts, failing on demand.
type scriptRecorder struct {
	scripts []string
	failOn  string
}

func (r *scriptRecorder) RunScript(ctx context.Context, script string, kind schema.ScriptKind) error {
	if script == r.failOn {
		return errors.New("boom")
	}
	r.scripts = append(r.scripts, script)
	return nil
}

func registerVersions(t *testing.T, log *schema.VersionLog) {
	t.Helper()
	require.NoError(t, log.Record(schema.Version{
		Number:    1,
		Migration: &schema.Migration{Kind: schema.ScriptDDL, Up: "create v1", Down: "drop v1"},
	}))
	require.NoError(t, log.Record(schema.Version{
		Number:    2,
		Migration: &schema.Migration{Kind: schema.ScriptMixed, Up: "alter v2", Down: "revert v2"},
	}))
	require.NoError(t, log.Record(schema.Version{
		Number:    3,
		Migration: &schema.Migration{Kind: schema.ScriptDML, Up: "backfill v3", Down: "unfill v3"},
	}))
}

func TestMigrateUpAndDown(t *testing.T) {
	m := schema.NewManager()
	log := m.Versions("users")
	registerVersions(t, log)
	assert.Equal(t, 0, log.Current())
	assert.Equal(t, 3, log.Latest())

	r := &scriptRecorder{}
	require.NoError(t, log.MigrateTo(context.Background(), r, 3))
	assert.Equal(t, []string{"create v1", "alter v2", "backfill v3"}, r.scripts)
	assert.Equal(t, 3, log.Current())

	r.scripts = nil
	require.NoError(t, log.MigrateTo(context.Background(), r, 1))
	assert.Equal(t, []string{"unfill v3", "revert v2"}, r.scripts)
	assert.Equal(t, 1, log.Current())

	history := log.History()
	require.Len(t, history, 5)
	for _, step := range history {
		assert.Equal(t, schema.StepSuccess, step.Status)
		assert.False(t, step.StartedAt.IsZero())
		assert.False(t, step.FinishedAt.IsZero())
	}
}

func TestMigrateStopsAtFailure(t *testing.T) {
	m := schema.NewManager()
	log := m.Versions("users")
	registerVersions(t, log)

	r := &scriptRecorder{failOn: "alter v2"}
	err := log.MigrateTo(context.Background(), r, 3)
	require.Error(t, err)
	assert.True(t, unidb.IsQueryError(err))

	// The walk stopped after the successful first step.
	assert.Equal(t, 1, log.Current())
	history := log.History()
	require.Len(t, history, 2)
	assert.Equal(t, schema.StepSuccess, history[0].Status)
	assert.Equal(t, schema.StepFailed, history[1].Status)
	assert.Contains(t, history[1].Error, "boom")
}

func TestRecordOutOfOrder(t *testing.T) {
	m := schema.NewManager()
	log := m.Versions("users")
	require.NoError(t, log.Record(schema.Version{Number: 2}))
	err := log.Record(schema.Version{Number: 1})
	require.Error(t, err)
	assert.True(t, unidb.IsConfigError(err))
}

func TestMigrateToCurrentIsNoop(t *testing.T) {
	m := schema.NewManager()
	log := m.Versions("users")
	registerVersions(t, log)
	r := &scriptRecorder{}
	require.NoError(t, log.MigrateTo(context.Background(), r, 0))
	assert.Empty(t, r.scripts)
}
