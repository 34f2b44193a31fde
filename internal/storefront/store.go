package storefront

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-faster/errors"
	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
)

// ProductStore persists the single CacheEntry.
type ProductStore interface {
	// Load returns a *Failure of kind ErrCacheMiss when nothing is stored and
	// of kind ErrParseFailure when the stored payload cannot be decoded.
	Load(ctx context.Context) (CacheEntry, error)
	Save(ctx context.Context, ent CacheEntry) error
}

// StoreMeta describes the stored entry without decoding it.
type StoreMeta struct {
	Size     int64  // compressed bytes on disk
	Hash     uint64 // xxhash of the JSON payload
	StoredAt int64  // unix milliseconds, same as CacheEntry.Timestamp
	Products int
}

type storeOp struct {
	ctx     context.Context
	payload []byte
	meta    StoreMeta
	done    chan error
}

// DiskStore keeps the entry in leveldb: "e:<key>" holds snappy(JSON),
// "m:<key>" holds gob(StoreMeta). Writes are applied by one goroutine.
type DiskStore struct {
	key string
	db  *leveldb.DB

	mu      sync.Mutex
	meta    StoreMeta
	hasMeta bool

	ops       chan storeOp
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ ProductStore = (*DiskStore)(nil)

func OpenDiskStore(path, key string) (*DiskStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %q", path)
	}
	d, err := NewDiskStore(db, key)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// NewDiskStore takes ownership of db; Close closes it.
func NewDiskStore(db *leveldb.DB, key string) (*DiskStore, error) {
	if key == "" {
		key = DefaultCacheKey
	}
	d := &DiskStore{
		key:     key,
		db:      db,
		ops:     make(chan storeOp),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := d.loadMeta(); err != nil {
		return nil, err
	}
	go d.writerLoop()
	return d, nil
}

func (d *DiskStore) entryKey() []byte { return []byte("e:" + d.key) }
func (d *DiskStore) metaKey() []byte  { return []byte("m:" + d.key) }

func (d *DiskStore) loadMeta() error {
	b, err := d.db.Get(d.metaKey(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read meta")
	}
	var meta StoreMeta
	if err := decodeGob(b, &meta); err != nil {
		// A broken meta record only loses stats; the entry is still readable.
		return nil
	}
	d.mu.Lock()
	d.meta, d.hasMeta = meta, true
	d.mu.Unlock()
	return nil
}

func (d *DiskStore) Meta() (StoreMeta, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta, d.hasMeta
}

func (d *DiskStore) Load(ctx context.Context) (CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return CacheEntry{}, err
	}
	b, err := d.db.Get(d.entryKey(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return CacheEntry{}, cacheMiss()
	}
	if err != nil {
		return CacheEntry{}, errors.Wrap(err, "read cache entry")
	}
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return CacheEntry{}, parseFailure(errors.Wrap(err, "decompress cache entry"))
	}
	var ent CacheEntry
	if err := json.Unmarshal(raw, &ent); err != nil {
		return CacheEntry{}, parseFailure(errors.Wrap(err, "decode cache entry"))
	}
	return ent, nil
}

// Save writes ent unless ctx is done before the writer applies it.
func (d *DiskStore) Save(ctx context.Context, ent CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(ent)
	if err != nil {
		return errors.Wrap(err, "encode cache entry")
	}
	op := storeOp{
		ctx:     ctx,
		payload: snappy.Encode(nil, raw),
		meta: StoreMeta{
			Hash:     xxhash.Sum64(raw),
			StoredAt: ent.Timestamp,
			Products: len(ent.Data),
		},
		done: make(chan error, 1),
	}
	op.meta.Size = int64(len(op.payload))

	select {
	case d.ops <- op:
	case <-d.closing:
		return errors.New("store closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	// The writer always answers once it took the op.
	return <-op.done
}

func (d *DiskStore) writerLoop() {
	defer close(d.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-d.closing:
			return
		case op := <-d.ops:
			op.done <- d.apply(op)
		}
	}
}

func (d *DiskStore) apply(op storeOp) error {
	if err := op.ctx.Err(); err != nil {
		return err
	}
	mb, err := encodeGob(op.meta)
	if err != nil {
		return errors.Wrap(err, "encode meta")
	}
	batch := new(leveldb.Batch)
	batch.Put(d.entryKey(), op.payload)
	batch.Put(d.metaKey(), mb)
	if err := d.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "write cache entry")
	}
	d.mu.Lock()
	d.meta, d.hasMeta = op.meta, true
	d.mu.Unlock()
	return nil
}

func (d *DiskStore) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closing)
		<-d.done
		err = d.db.Close()
	})
	return err
}

func (m StoreMeta) Time() time.Time { return time.UnixMilli(m.StoredAt) }

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
