package storefront

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var sampleProducts = []Product{
	{ID: 1, Category: "Fruits", Name: "Mango", InStock: true},
	{ID: 2, Category: "Fruits", Name: "Lemon", InStock: false},
	{ID: 3, Category: "Bakery", Name: "Sourdough", InStock: true},
}

func newMemStore(t *testing.T) (*DiskStore, *leveldb.DB) {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("open mem leveldb: %v", err)
	}
	st, err := NewDiskStore(db, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, db
}

func seed(t *testing.T, st ProductStore, data []Product, at time.Time) {
	t.Helper()
	if err := st.Save(context.Background(), CacheEntry{Data: data, Timestamp: at.UnixMilli()}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// origin serves products with a configurable status and counts requests.
type origin struct {
	*httptest.Server
	hits   atomic.Int64
	status atomic.Int64

	mu   sync.Mutex
	body []byte
}

func newOrigin(t *testing.T, products []Product) *origin {
	t.Helper()
	o := &origin{}
	o.status.Store(http.StatusOK)
	o.setProducts(t, products)
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		code := int(o.status.Load())
		if code < 200 || code >= 300 {
			http.Error(w, "boom", code)
			return
		}
		o.mu.Lock()
		b := o.body
		o.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) setProducts(t *testing.T, products []Product) {
	t.Helper()
	b, err := json.Marshal(products)
	if err != nil {
		t.Fatal(err)
	}
	o.setBody(b)
}

func (o *origin) setBody(b []byte) {
	o.mu.Lock()
	o.body = b
	o.mu.Unlock()
}

// countingStore records writes on top of another store.
type countingStore struct {
	ProductStore
	saves   atomic.Int64
	saveErr error
}

func (c *countingStore) Save(ctx context.Context, ent CacheEntry) error {
	c.saves.Add(1)
	if c.saveErr != nil {
		return c.saveErr
	}
	return c.ProductStore.Save(ctx, ent)
}

func settle(t *testing.T, s *Session) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("wait for resolution: %v", err)
	}
	return st
}

func sameIDs(a, b []Product) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}
