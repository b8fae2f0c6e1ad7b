package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/schema/field"
	"github.com/syssam/unidb/schema/index"
)

// ModelMeta bundles one registered model: its table, alias, field
// definitions and indexes.
type ModelMeta struct {
	Table       string
	Alias       string
	Fields      map[string]*field.Descriptor
	Indexes     []index.Descriptor
	Description string
}

// TableName derives a table name from a model name the conventional way:
// snake_case, pluralised. A UserProfile model lands in user_profiles.
func TableName(model string) string {
	return inflect.Pluralize(inflect.Underscore(model))
}

// DDL is the subset of adapter operations the ensure path drives. The ODM
// dispatcher implements it by routing DDL operations through the target
// alias's pool.
type DDL interface {
	TableExists(ctx context.Context, table string) (bool, error)
	CreateTable(ctx context.Context, ts *TableSchema) error
	CreateIndex(ctx context.Context, table, name string, fields []string, unique bool) error
}

// Manager is the registry of declared schemas and the per-table version
// registry. A single Manager serves all aliases.
type Manager struct {
	mu       sync.RWMutex
	models   map[string]*ModelMeta // keyed by alias + "\x00" + table
	ensured  map[string]struct{}
	versions map[string]*VersionLog
}

// NewManager returns an empty schema manager.
func NewManager() *Manager {
	return &Manager{
		models:   make(map[string]*ModelMeta),
		ensured:  make(map[string]struct{}),
		versions: make(map[string]*VersionLog),
	}
}

func metaKey(alias, table string) string { return alias + "\x00" + table }

// Register records a model's schema. Registering the same alias+table pair
// twice is a configuration error.
func (m *Manager) Register(meta *ModelMeta) error {
	if meta.Table == "" {
		return unidb.NewConfigError("model registration requires a table name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metaKey(meta.Alias, meta.Table)
	if _, dup := m.models[key]; dup {
		return unidb.NewConfigError(fmt.Sprintf("model for table %q on alias %q already registered", meta.Table, meta.Alias))
	}
	m.models[key] = meta
	return nil
}

// Lookup returns the registered meta for the alias+table pair, or nil.
func (m *Manager) Lookup(alias, table string) *ModelMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.models[metaKey(alias, table)]
}

// ValidateRecord checks data against the registered schema, if any.
func (m *Manager) ValidateRecord(alias, table string, data unidb.Record) error {
	meta := m.Lookup(alias, table)
	if meta == nil {
		return nil
	}
	return Validate(meta.Fields, data)
}

// EnsureTableAndIndexes creates the declared table and indexes on first use.
// Subsequent calls for the same alias+table are no-ops; existence is checked
// at most once.
func (m *Manager) EnsureTableAndIndexes(ctx context.Context, ddl DDL, alias, table string) error {
	meta := m.Lookup(alias, table)
	if meta == nil {
		return nil
	}
	key := metaKey(alias, table)
	m.mu.RLock()
	_, done := m.ensured[key]
	m.mu.RUnlock()
	if done {
		return nil
	}
	exists, err := ddl.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		if err := ddl.CreateTable(ctx, FromFields(table, meta.Fields)); err != nil {
			return err
		}
		for _, idx := range meta.Indexes {
			name := idx.Name
			if name == "" {
				name = fmt.Sprintf("idx_%s_%s", table, strings.Join(idx.Fields, "_"))
			}
			if err := ddl.CreateIndex(ctx, table, name, idx.Fields, idx.Unique); err != nil {
				return err
			}
		}
		for fname, d := range meta.Fields {
			if d.Indexed && !d.Unique {
				name := fmt.Sprintf("idx_%s_%s", table, fname)
				if err := ddl.CreateIndex(ctx, table, name, []string{fname}, false); err != nil {
					return err
				}
			}
		}
	}
	m.mu.Lock()
	m.ensured[key] = struct{}{}
	m.mu.Unlock()
	return nil
}

// Versions returns the version log for the table, creating it on first use.
func (m *Manager) Versions(table string) *VersionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.versions[table]
	if !ok {
		log = &VersionLog{table: table}
		m.versions[table] = log
	}
	return log
}
