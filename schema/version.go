package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syssam/unidb"
)

// ScriptKind tags a migration script by the statements it carries.
type ScriptKind int

const (
	// ScriptDDL contains schema statements only.
	ScriptDDL ScriptKind = iota
	// ScriptDML contains data statements only.
	ScriptDML
	// ScriptMixed contains both.
	ScriptMixed
)

// Migration optionally accompanies a schema version with executable
// up/down scripts. Authoring the scripts is the user's responsibility.
type Migration struct {
	Kind ScriptKind
	Up   string
	Down string
}

// Version is one recorded schema version of a table.
type Version struct {
	Number      int
	Description string
	Migration   *Migration
}

// StepStatus tracks one migration step's execution.
type StepStatus int

const (
	// StepPending has not started.
	StepPending StepStatus = iota
	// StepRunning is executing.
	StepRunning
	// StepSuccess completed.
	StepSuccess
	// StepFailed errored out.
	StepFailed
	// StepRolledBack was undone after a later failure.
	StepRolledBack
)

// String returns the status name.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepSuccess:
		return "success"
	case StepFailed:
		return "failed"
	case StepRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// StepRecord is the execution record of one migration step.
type StepRecord struct {
	FromVersion int
	ToVersion   int
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      StepStatus
	Error       string
}

// Runner executes one migration script against a backend. The ODM
// dispatcher provides one that routes raw statements through a pool.
type Runner interface {
	RunScript(ctx context.Context, script string, kind ScriptKind) error
}

// VersionLog is the ordered version registry of one table. Schema evolution
// is opt-in; the default path is ensure-on-first-use, leave alone
// afterwards.
type VersionLog struct {
	mu       sync.Mutex
	table    string
	versions []Version
	current  int
	history  []StepRecord
}

// Record appends a schema version. Versions must be recorded in increasing
// number order.
func (l *VersionLog) Record(v Version) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.versions); n > 0 && v.Number <= l.versions[n-1].Number {
		return unidb.NewConfigError(fmt.Sprintf("table %q: version %d not after %d", l.table, v.Number, l.versions[n-1].Number))
	}
	l.versions = append(l.versions, v)
	return nil
}

// Current returns the highest applied version number, 0 before any
// migration has run.
func (l *VersionLog) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Latest returns the highest recorded version number.
func (l *VersionLog) Latest() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.versions) == 0 {
		return 0
	}
	return l.versions[len(l.versions)-1].Number
}

// History returns a copy of the execution records.
func (l *VersionLog) History() []StepRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StepRecord, len(l.history))
	copy(out, l.history)
	return out
}

// MigrateTo walks from the current version to target, executing up scripts
// forward or down scripts backward and recording each step. The walk stops
// at the first failure.
func (l *VersionLog) MigrateTo(ctx context.Context, runner Runner, target int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if target == l.current {
		return nil
	}
	up := target > l.current
	steps := l.plan(target, up)
	for _, v := range steps {
		rec := StepRecord{StartedAt: time.Now(), Status: StepRunning}
		var script string
		if up {
			rec.FromVersion, rec.ToVersion = l.current, v.Number
			if v.Migration != nil {
				script = v.Migration.Up
			}
		} else {
			// Running v's down script lands on the version below v.
			rec.FromVersion, rec.ToVersion = l.current, l.numberBelow(v.Number)
			if v.Migration != nil {
				script = v.Migration.Down
			}
		}
		var err error
		if script != "" {
			kind := ScriptMixed
			if v.Migration != nil {
				kind = v.Migration.Kind
			}
			err = runner.RunScript(ctx, script, kind)
		}
		rec.FinishedAt = time.Now()
		if err != nil {
			rec.Status = StepFailed
			rec.Error = err.Error()
			l.history = append(l.history, rec)
			return unidb.NewQueryError(fmt.Sprintf("migration of %q to version %d failed: %v", l.table, rec.ToVersion, err), err)
		}
		rec.Status = StepSuccess
		l.history = append(l.history, rec)
		l.current = rec.ToVersion
	}
	return nil
}

// numberBelow returns the highest recorded version number strictly below n,
// or 0. Callers hold the lock.
func (l *VersionLog) numberBelow(n int) int {
	below := 0
	for _, v := range l.versions {
		if v.Number < n && v.Number > below {
			below = v.Number
		}
	}
	return below
}

// plan returns the versions to visit walking toward target. Callers hold
// the lock.
func (l *VersionLog) plan(target int, up bool) []Version {
	var steps []Version
	if up {
		for _, v := range l.versions {
			if v.Number > l.current && v.Number <= target {
				steps = append(steps, v)
			}
		}
		sort.Slice(steps, func(i, j int) bool { return steps[i].Number < steps[j].Number })
	} else {
		for _, v := range l.versions {
			if v.Number <= l.current && v.Number > target {
				steps = append(steps, v)
			}
		}
		sort.Slice(steps, func(i, j int) bool { return steps[i].Number > steps[j].Number })
	}
	return steps
}
