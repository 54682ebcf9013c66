package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Disk is the durable cross-process tier: one zstd-compressed file per
// entry, named by the hash of the cache key. Entries older than the TTL
// are treated as misses.
type Disk struct {
	dir string
	ttl time.Duration
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewDisk opens (creating if needed) a durable tier rooted at dir.
// ttl <= 0 disables expiry.
func NewDisk(dir string, ttl time.Duration) (*Disk, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &Disk{dir: dir, ttl: ttl, enc: enc, dec: dec}, nil
}

func (d *Disk) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+".zst")
}

// Get returns the stored value for key, or false if absent or expired.
func (d *Disk) Get(key string) ([]byte, bool, error) {
	path := d.path(key)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if d.ttl > 0 && time.Since(info.ModTime()) > d.ttl {
		return nil, false, nil
	}

	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	val, err := d.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress %s: %w", filepath.Base(path), err)
	}
	return val, true, nil
}

// Put stores a value. The write goes through a temp file and rename so a
// concurrent reader never observes a partial entry.
func (d *Disk) Put(key string, val []byte) error {
	path := d.path(key)
	compressed := d.enc.EncodeAll(val, nil)

	tmp, err := os.CreateTemp(d.dir, "entry-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
