package storefront

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"storefront/internal/metrics"
)

// Connectivity reports whether the network is reachable.
type Connectivity interface {
	Connected(ctx context.Context) (bool, error)
	// Subscribe calls fn with the new value on every change until the returned
	// func is called. No call to fn starts after unsubscribe returns. fn must
	// not unsubscribe itself.
	Subscribe(fn func(connected bool)) (unsubscribe func())
}

type subscription struct {
	mu     sync.Mutex
	active bool
	fn     func(bool)
}

func (s *subscription) deliver(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.fn(v)
	}
}

type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]*subscription
}

func (l *subscribers) add(fn func(bool)) func() {
	sub := &subscription{active: true, fn: fn}
	l.mu.Lock()
	if l.subs == nil {
		l.subs = map[int]*subscription{}
	}
	id := l.next
	l.next++
	l.subs[id] = sub
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		})
	}
}

func (l *subscribers) notify(v bool) {
	l.mu.Lock()
	subs := make([]*subscription, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()
	for _, s := range subs {
		s.deliver(v)
	}
}

func (l *subscribers) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// ManualConnectivity holds a value set by the caller. It backs
// connectivity.assumeOnline and tests.
type ManualConnectivity struct {
	mu        sync.Mutex
	connected bool
	err       error

	subs subscribers
}

var _ Connectivity = (*ManualConnectivity)(nil)

func NewManualConnectivity(connected bool) *ManualConnectivity {
	return &ManualConnectivity{connected: connected}
}

func (m *ManualConnectivity) Connected(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected, m.err
}

// Set updates the value and notifies subscribers if it changed.
func (m *ManualConnectivity) Set(connected bool) {
	m.mu.Lock()
	changed := m.connected != connected
	m.connected = connected
	m.mu.Unlock()
	if changed {
		m.subs.notify(connected)
	}
}

// Fail makes Connected return err until Fail(nil).
func (m *ManualConnectivity) Fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *ManualConnectivity) Subscribe(fn func(bool)) func() { return m.subs.add(fn) }

// Subscribers reports the number of live subscriptions.
func (m *ManualConnectivity) Subscribers() int { return m.subs.count() }

// ProbeMonitor treats any HTTP response from the probe URL as connected.
type ProbeMonitor struct {
	url     string
	client  *http.Client
	timeout time.Duration

	mu       sync.Mutex
	known    bool
	hasKnown bool

	subs subscribers

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	flapLog *rateLimitedLogger
}

var _ Connectivity = (*ProbeMonitor)(nil)

// NewProbeMonitor probes url every interval in the background. With a zero
// interval it only probes when Connected is called.
func NewProbeMonitor(url string, client *http.Client, every, timeout time.Duration) *ProbeMonitor {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := &ProbeMonitor{
		url:     url,
		client:  client,
		timeout: timeout,
		stopCh:  make(chan struct{}),
		flapLog: newRateLimitedLogger(time.Minute),
	}
	if every > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.loop(every)
		}()
	}
	return m
}

func (m *ProbeMonitor) Connected(ctx context.Context) (bool, error) {
	ok := m.probe(ctx)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.record(ok)
	return ok, nil
}

func (m *ProbeMonitor) Subscribe(fn func(bool)) func() { return m.subs.add(fn) }

func (m *ProbeMonitor) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

func (m *ProbeMonitor) loop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-m.stopCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			ok := m.probe(ctx)
			stopped := ctx.Err() != nil
			cancel()
			if stopped {
				return
			}
			m.record(ok)
		}
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.flapLog.Printf("connectivity: probe %s failed: %v", m.url, err)
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}

func (m *ProbeMonitor) record(ok bool) {
	m.mu.Lock()
	changed := m.hasKnown && m.known != ok
	m.known, m.hasKnown = ok, true
	m.mu.Unlock()

	metrics.SetOffline(!ok)
	if !changed {
		return
	}
	if ok {
		log.Printf("connectivity: back online")
	} else {
		log.Printf("connectivity: offline")
	}
	m.subs.notify(ok)
}
