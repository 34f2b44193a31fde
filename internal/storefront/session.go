package storefront

import (
	"context"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"storefront/internal/metrics"
)

// ProductCache mounts sessions that resolve the product list from the
// network or the persisted entry.
type ProductCache struct {
	r resolver

	onResolved func(outcome string)
}

type Option func(*ProductCache)

func WithClock(now func() time.Time) Option {
	return func(c *ProductCache) { c.r.now = now }
}

// WithExpiry sets the cache expiration. Stale entries are treated as a miss
// only when enforce is true.
func WithExpiry(d time.Duration, enforce bool) Option {
	return func(c *ProductCache) {
		c.r.expiry = d
		c.r.enforce = enforce
	}
}

// WithResolvedHook is called with the outcome of every settled resolution.
func WithResolvedHook(fn func(outcome string)) Option {
	return func(c *ProductCache) { c.onResolved = fn }
}

func NewProductCache(store ProductStore, fetcher Fetcher, conn Connectivity, opts ...Option) *ProductCache {
	c := &ProductCache{
		r: resolver{
			store:    store,
			fetcher:  fetcher,
			conn:     conn,
			now:      time.Now,
			expiry:   DefaultCacheExpiry,
			staleLog: newRateLimitedLogger(10 * time.Minute),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Mount starts a session for locator: it subscribes to connectivity changes
// and runs one resolution. Close releases both.
func (c *ProductCache) Mount(locator string) (*Session, error) {
	if err := validateLocator(locator); err != nil {
		return nil, err
	}
	s := &Session{
		cache:     c,
		state:     State{Products: []Product{}, Loading: true},
		listeners: map[int]func(State){},
	}
	s.unsubscribe = c.r.conn.Subscribe(s.onConnectivity)

	s.mu.Lock()
	s.startLocked(locator)
	s.mu.Unlock()
	return s, nil
}

// WithSession mounts a session, runs fn and unmounts on every exit path.
func (c *ProductCache) WithSession(locator string, fn func(*Session) error) error {
	s, err := c.Mount(locator)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func validateLocator(locator string) error {
	if locator == "" {
		return errors.New("empty locator")
	}
	if _, err := url.Parse(locator); err != nil {
		return errors.Wrap(err, "parse locator")
	}
	return nil
}

// Session is one mounted consumer of the product cache.
type Session struct {
	cache *ProductCache

	mu      sync.Mutex
	state   State
	locator string
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	trace   []Phase
	closed  bool

	unsubscribe func()

	listeners map[int]func(State)
	nextID    int

	// serializes emissions so listeners see states in order
	emitMu sync.Mutex
}

func (s *Session) startLocked(locator string) {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.locator, s.cancel, s.done = locator, cancel, done

	go func() {
		defer close(done)
		defer cancel()
		res := s.cache.r.resolve(ctx, locator, func(offline bool) {
			s.setOffline(gen, offline)
		})
		s.settle(gen, locator, res)
	}()
}

func (s *Session) settle(gen uint64, locator string, res resolution) {
	var served int
	applied := s.update(gen, func(st *State) {
		if res.err == nil {
			st.Products = res.products
			st.Error = ""
		} else {
			st.Error = errorMessage(res.err)
		}
		st.Loading = false
		s.trace = res.trace
		served = len(st.Products)
	})
	if !applied {
		return
	}
	metrics.IncResolution(res.outcome)
	metrics.SetProducts(served)
	if res.err != nil {
		log.Printf("resolve: %s: %v", locator, res.err)
	}
	if s.cache.onResolved != nil {
		s.cache.onResolved(res.outcome)
	}
}

// update applies fn if the session is open and gen is still current. A zero
// gen skips the generation check.
func (s *Session) update(gen uint64, fn func(*State)) bool {
	s.mu.Lock()
	if s.closed || (gen != 0 && gen != s.gen) {
		s.mu.Unlock()
		return false
	}
	fn(&s.state)
	s.mu.Unlock()
	s.emit()
	return true
}

func (s *Session) onConnectivity(connected bool) {
	s.setOffline(0, !connected)
}

func (s *Session) setOffline(gen uint64, offline bool) {
	if s.update(gen, func(st *State) { st.Offline = offline }) {
		metrics.SetOffline(offline)
	}
}

func (s *Session) emit() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	st := s.state.clone()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		if s.isClosed() {
			return
		}
		fn(st)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Session) Locator() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locator
}

// Trace returns the phases of the last settled resolution.
func (s *Session) Trace() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Phase, len(s.trace))
	copy(out, s.trace)
	return out
}

// Subscribe registers fn for every state change until unsubscribe is called.
// fn must not Close the session.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Done is closed when the current resolution has finished.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the current resolution settles and returns the state.
func (s *Session) Wait(ctx context.Context) (State, error) {
	for {
		done := s.Done()
		select {
		case <-ctx.Done():
			return State{}, ctx.Err()
		case <-done:
		}
		// A locator change may have started another resolution meanwhile.
		if s.Done() == done {
			return s.State(), nil
		}
	}
}

// SetLocator re-runs the resolution when locator differs from the current
// one. Loading is not set back to true.
func (s *Session) SetLocator(locator string) error {
	if err := validateLocator(locator); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	if locator == s.locator {
		return nil
	}
	s.cancel()
	s.startLocked(locator)
	return nil
}

// Close unmounts the session. The connectivity subscription is released, an
// in-flight resolution can no longer change the state and no listener runs
// after Close returns. Close must not be called from a listener.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	s.listeners = map[int]func(State){}
	s.mu.Unlock()

	// wait out an emission already past its closed check
	s.emitMu.Lock()
	s.emitMu.Unlock()

	s.unsubscribe()
}
