package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"feedforge/pkg/logger"
)

// Value layout: 8 bytes big-endian expiry (unix nanos, 0 = no expiry)
// followed by the raw value. Expired entries are purged lazily on read
// and during ListKeys.
const expiryHeaderSize = 8

// Pebble is the durable KV used in production.
type Pebble struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Pebble, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Pebble{db: db}, nil
}

// Close closes the underlying database.
func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	logger.Info("pebble_closed")
	return err
}

// Ready reports whether the store is opened and usable.
func (p *Pebble) Ready() bool { return p != nil && p.db != nil }

func encodeValue(value []byte, expiry int64) []byte {
	buf := make([]byte, expiryHeaderSize+len(value))
	binary.BigEndian.PutUint64(buf, uint64(expiry))
	copy(buf[expiryHeaderSize:], value)
	return buf
}

func decodeValue(raw []byte) (value []byte, expiry int64, err error) {
	if len(raw) < expiryHeaderSize {
		return nil, 0, fmt.Errorf("corrupt value: %d bytes", len(raw))
	}
	return raw[expiryHeaderSize:], int64(binary.BigEndian.Uint64(raw)), nil
}

func (p *Pebble) Get(key string) (string, error) {
	if p.db == nil {
		return "", fmt.Errorf("pebble not opened; call store.Open first")
	}
	raw, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	v := append([]byte(nil), raw...)
	if closer != nil {
		_ = closer.Close()
	}
	val, exp, err := decodeValue(v)
	if err != nil {
		return "", err
	}
	if exp != 0 && time.Now().UnixNano() > exp {
		_ = p.db.Delete([]byte(key), pebble.Sync)
		return "", ErrNotFound
	}
	return string(val), nil
}

func (p *Pebble) Set(key string, value []byte) error {
	return p.SetTTL(key, value, 0)
}

func (p *Pebble) SetTTL(key string, value []byte, ttl time.Duration) error {
	if p.db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}
	if err := p.db.Set([]byte(key), encodeValue(value, exp), pebble.Sync); err != nil {
		logger.Error("save_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (p *Pebble) Delete(key string) error {
	if p.db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return p.db.Delete([]byte(key), pebble.Sync)
}

func (p *Pebble) ListKeys(prefix string) ([]string, error) {
	if p.db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	pfx := []byte(prefix)
	now := time.Now().UnixNano()
	var out []string
	var expired [][]byte
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if len(pfx) > 0 && !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		if _, exp, err := decodeValue(iter.Value()); err == nil && exp != 0 && now > exp {
			expired = append(expired, append([]byte(nil), iter.Key()...))
			continue
		}
		out = append(out, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	for _, k := range expired {
		_ = p.db.Delete(k, pebble.NoSync)
	}
	return out, nil
}
