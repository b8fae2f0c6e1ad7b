package cache

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	bolt "go.etcd.io/bbolt"

	"github.com/syssam/unidb"
)

var bucketEntries = []byte("entries")

// diskTier is the optional L2 cache level over a bbolt file. Values are
// stored with a small header carrying the negative flag, expiry, write time
// and hit count, followed by the optionally compressed payload.
type diskTier struct {
	db     *bolt.DB
	cfg    unidb.L2Config
	logger *slog.Logger
	zenc   *zstd.Encoder
	zdec   *zstd.Decoder
}

func newDiskTier(cfg *unidb.L2Config, logger *slog.Logger) (*diskTier, error) {
	if cfg.DataDir == "" {
		return nil, unidb.NewConfigError("cache l2 requires a data directory")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, unidb.NewConfigError(fmt.Sprintf("cache l2 data dir %q: %v", cfg.DataDir, err))
	}
	path := filepath.Join(cfg.DataDir, "unidb-cache.db")
	if cfg.ClearOnStartup {
		_ = os.Remove(path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, unidb.NewConfigError(fmt.Sprintf("cache l2 open %q: %v", path, err))
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	}); err != nil {
		db.Close()
		return nil, unidb.NewConfigError(fmt.Sprintf("cache l2 init: %v", err))
	}
	t := &diskTier{db: db, cfg: *cfg, logger: logger}
	if cfg.Compression && t.algo() == "zstd" {
		level := zstd.SpeedDefault
		if cfg.CompressionLevel > 0 {
			level = zstd.EncoderLevelFromZstd(cfg.CompressionLevel)
		}
		t.zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		t.zdec, _ = zstd.NewReader(nil)
	}
	return t, nil
}

func (t *diskTier) algo() string {
	if t.cfg.CompressionAlgo == "" {
		return "zstd"
	}
	return t.cfg.CompressionAlgo
}

const (
	flagNegative   = 1 << 0
	flagCompressed = 1 << 1
)

// encode lays out: flags(1) | expires(8) | written(8) | hits(4) | rawLen(8) | payload.
func (t *diskTier) encode(e entry) []byte {
	payload := e.payload
	flags := byte(0)
	if e.negative {
		flags |= flagNegative
	}
	rawLen := uint64(len(payload))
	if t.cfg.Compression && len(payload) > 0 {
		if c, ok := t.compress(payload); ok {
			payload = c
			flags |= flagCompressed
		}
	}
	buf := make([]byte, 29+len(payload))
	buf[0] = flags
	var expires int64
	if !e.expires.IsZero() {
		expires = e.expires.UnixNano()
	}
	binary.BigEndian.PutUint64(buf[1:], uint64(expires))
	binary.BigEndian.PutUint64(buf[9:], uint64(e.written.UnixNano()))
	binary.BigEndian.PutUint32(buf[17:], e.hits)
	binary.BigEndian.PutUint64(buf[21:], rawLen)
	copy(buf[29:], payload)
	return buf
}

func (t *diskTier) decode(buf []byte) (entry, bool) {
	if len(buf) < 29 {
		return entry{}, false
	}
	flags := buf[0]
	e := entry{negative: flags&flagNegative != 0}
	if expires := int64(binary.BigEndian.Uint64(buf[1:])); expires != 0 {
		e.expires = time.Unix(0, expires)
	}
	e.written = time.Unix(0, int64(binary.BigEndian.Uint64(buf[9:])))
	e.hits = binary.BigEndian.Uint32(buf[17:])
	rawLen := binary.BigEndian.Uint64(buf[21:])
	payload := buf[29:]
	if flags&flagCompressed != 0 {
		raw, err := t.decompress(payload, int(rawLen))
		if err != nil {
			return entry{}, false
		}
		payload = raw
	}
	if !e.negative {
		e.payload = append([]byte(nil), payload...)
	}
	return e, true
}

func (t *diskTier) compress(raw []byte) ([]byte, bool) {
	switch t.algo() {
	case "lz4":
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		var c lz4.Compressor
		n, err := c.CompressBlock(raw, dst)
		if err != nil || n == 0 || n >= len(raw) {
			return nil, false
		}
		return dst[:n], true
	default:
		c := t.zenc.EncodeAll(raw, nil)
		if len(c) >= len(raw) {
			return nil, false
		}
		return c, true
	}
}

func (t *diskTier) decompress(c []byte, rawLen int) ([]byte, error) {
	switch t.algo() {
	case "lz4":
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(c, dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	default:
		return t.zdec.DecodeAll(c, nil)
	}
}

func (t *diskTier) get(key string) (entry, bool) {
	var e entry
	var ok bool
	err := t.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketEntries).Get([]byte(key)); v != nil {
			e, ok = t.decode(v)
		}
		return nil
	})
	if err != nil {
		t.logger.Warn("cache l2 read failed", "key", key, "error", err)
		return entry{}, false
	}
	return e, ok
}

func (t *diskTier) set(key string, e entry) {
	err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(key), t.encode(e))
	})
	if err != nil {
		t.logger.Warn("cache l2 write failed", "key", key, "error", err)
	}
}

func (t *diskTier) delete(key string) {
	err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(key))
	})
	if err != nil {
		t.logger.Warn("cache l2 delete failed", "key", key, "error", err)
	}
}

func (t *diskTier) clear() {
	err := t.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketEntries); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketEntries)
		return err
	})
	if err != nil {
		t.logger.Warn("cache l2 clear failed", "error", err)
	}
}

func (t *diskTier) keys() []string {
	var out []string
	_ = t.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out
}

func (t *diskTier) close() error {
	if t.zenc != nil {
		t.zenc.Close()
	}
	return t.db.Close()
}
