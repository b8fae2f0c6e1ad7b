package unidb

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDStrategy declares, per alias, how record IDs are produced and validated.
type IDStrategy int

const (
	// IDAutoIncrement relies on the backend's serial/auto-increment column.
	IDAutoIncrement IDStrategy = iota
	// IDUUID generates UUID v4 strings client-side.
	IDUUID
	// IDSnowflake generates 64-bit time-ordered IDs client-side.
	IDSnowflake
	// IDObjectID uses the document store's native 24-hex-char ID form.
	IDObjectID
)

// String returns the strategy name.
func (s IDStrategy) String() string {
	switch s {
	case IDAutoIncrement:
		return "auto_increment"
	case IDUUID:
		return "uuid"
	case IDSnowflake:
		return "snowflake"
	case IDObjectID:
		return "object_id"
	default:
		return "unknown"
	}
}

// IDGenerator produces and validates IDs for one declared strategy.
// It is safe for concurrent use.
type IDGenerator struct {
	strategy  IDStrategy
	snowflake *snowflakeSource
	counter   int64
	mu        sync.Mutex
}

// NewIDGenerator returns a generator for the given strategy. Snowflake
// strategies must provide datacenterID ≤ 31 and machineID ≤ 1023; the other
// strategies ignore both arguments.
func NewIDGenerator(strategy IDStrategy, datacenterID, machineID int64) (*IDGenerator, error) {
	g := &IDGenerator{strategy: strategy, counter: 0}
	if strategy == IDSnowflake {
		src, err := newSnowflakeSource(datacenterID, machineID)
		if err != nil {
			return nil, err
		}
		g.snowflake = src
	}
	return g, nil
}

// Strategy returns the declared strategy.
func (g *IDGenerator) Strategy() IDStrategy { return g.strategy }

// Generate returns one new ID of the generator's strategy. For the
// auto-increment strategy the value comes from a process-local counter and is
// only meaningful for tests and client-side bookkeeping; the real ID is
// assigned by the backend on insert.
func (g *IDGenerator) Generate() (Value, error) {
	switch g.strategy {
	case IDAutoIncrement:
		g.mu.Lock()
		g.counter++
		n := g.counter
		g.mu.Unlock()
		return Int(n), nil
	case IDUUID:
		return String(uuid.NewString()), nil
	case IDSnowflake:
		id, err := g.snowflake.next()
		if err != nil {
			return Null(), err
		}
		return String(strconv.FormatInt(id, 10)), nil
	case IDObjectID:
		return String(primitive.NewObjectID().Hex()), nil
	default:
		return Null(), NewConfigError(fmt.Sprintf("unknown id strategy %d", g.strategy))
	}
}

// Validate checks an ID against the declared strategy before use.
func (g *IDGenerator) Validate(id Value) error {
	switch g.strategy {
	case IDAutoIncrement:
		n, ok := id.AsInt()
		if !ok || n <= 0 {
			return NewValidationError("id", "auto-increment ids must be positive integers")
		}
	case IDUUID:
		s, ok := id.AsString()
		if !ok {
			return NewValidationError("id", "uuid ids must be strings")
		}
		if _, err := uuid.Parse(s); err != nil {
			return NewValidationError("id", fmt.Sprintf("invalid uuid %q", s))
		}
	case IDSnowflake:
		s, ok := id.AsString()
		if !ok {
			return NewValidationError("id", "snowflake ids must be strings")
		}
		if _, err := strconv.ParseUint(s, 10, 64); err != nil {
			return NewValidationError("id", fmt.Sprintf("invalid snowflake id %q", s))
		}
	case IDObjectID:
		s, ok := id.AsString()
		if !ok {
			return NewValidationError("id", "object ids must be strings")
		}
		if !isHex24(s) {
			return NewValidationError("id", fmt.Sprintf("invalid object id %q", s))
		}
	}
	return nil
}

// isHex24 reports whether s is a 24-character hexadecimal string.
func isHex24(s string) bool {
	if len(s) != 24 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// snowflakeEpoch is the epoch (2010-11-04T01:42:54.657Z) the 41-bit
// millisecond timestamp counts from.
const snowflakeEpoch = 1288834974657

// snowflakeSource implements the 41-bit timestamp | 5-bit datacenter |
// 10-bit machine | 12-bit sequence layout.
type snowflakeSource struct {
	mu           sync.Mutex
	datacenterID int64
	machineID    int64
	sequence     int64
	lastMillis   int64
}

func newSnowflakeSource(datacenterID, machineID int64) (*snowflakeSource, error) {
	if datacenterID < 0 || datacenterID > 31 {
		return nil, NewConfigError(fmt.Sprintf("snowflake datacenter id %d out of range [0, 31]", datacenterID))
	}
	if machineID < 0 || machineID > 1023 {
		return nil, NewConfigError(fmt.Sprintf("snowflake machine id %d out of range [0, 1023]", machineID))
	}
	return &snowflakeSource{datacenterID: datacenterID, machineID: machineID}, nil
}

func (s *snowflakeSource) next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	if now < s.lastMillis {
		return 0, NewConfigError(fmt.Sprintf("clock moved backwards by %dms", s.lastMillis-now))
	}
	if now == s.lastMillis {
		s.sequence = (s.sequence + 1) & 0xFFF
		if s.sequence == 0 {
			for now <= s.lastMillis {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMillis = now
	id := (now-snowflakeEpoch)<<22 | s.datacenterID<<17 | s.machineID<<12 | s.sequence
	return id, nil
}
