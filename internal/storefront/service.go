package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-faster/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type Service struct {
	cfg Config

	store ProductStore
	conn  Connectivity
	cache *ProductCache
	stats *statsCollector

	mu      sync.Mutex
	session *Session
	unwatch func()

	refresh singleflight.Group

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewService(cfg Config) (*Service, error) {
	store, err := OpenDiskStore(cfg.Storage.Path, cfg.Storage.Key)
	if err != nil {
		return nil, err
	}

	stats := newStatsCollector()
	fetcher := NewHTTPFetcher(&http.Client{Timeout: cfg.Source.timeoutDur}, cfg.Source.maxBytes)
	fetcher.observe = stats.ObservePayload

	var conn Connectivity
	if cfg.Connectivity.AssumeOnline {
		conn = NewManualConnectivity(true)
	} else {
		conn = NewProbeMonitor(cfg.Connectivity.Probe, nil, cfg.Connectivity.everyDur, cfg.Connectivity.timeoutDur)
	}

	s, err := newService(cfg, store, fetcher, conn, stats)
	if err != nil {
		_ = store.Close()
		if pm, ok := conn.(*ProbeMonitor); ok {
			pm.Close()
		}
		return nil, err
	}
	return s, nil
}

func newService(cfg Config, store ProductStore, fetcher Fetcher, conn Connectivity, stats *statsCollector) (*Service, error) {
	if stats == nil {
		stats = newStatsCollector()
	}
	s := &Service{
		cfg:    cfg,
		store:  store,
		conn:   conn,
		stats:  stats,
		stopCh: make(chan struct{}),
	}
	s.cache = NewProductCache(store, fetcher, conn,
		WithExpiry(cfg.Cache.expDur, cfg.Cache.EnforceExpiration),
		WithResolvedHook(stats.ObserveOutcome),
	)

	sess, err := s.cache.Mount(cfg.Source.URL)
	if err != nil {
		return nil, err
	}
	_ = s.swap(sess) // stopCh is still open

	if every := cfg.Logging.logStatsEveryDur; every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}
	return s, nil
}

func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()

		s.mu.Lock()
		sess, unwatch := s.session, s.unwatch
		s.session, s.unwatch = nil, nil
		s.mu.Unlock()
		if sess != nil {
			unwatch()
			sess.Close()
		}
		if pm, ok := s.conn.(*ProbeMonitor); ok {
			pm.Close()
		}
		if c, ok := s.store.(io.Closer); ok {
			_ = c.Close()
		}
	})
}

// Session returns the session currently served.
func (s *Service) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

var errServiceClosed = errors.New("service closed")

// swap serves next and unmounts the previous session. After Close it
// unmounts next instead and returns false.
func (s *Service) swap(next *Session) bool {
	offline := next.State().Offline
	unwatch := next.Subscribe(func(st State) {
		if st.Offline != offline {
			offline = st.Offline
			log.Printf("state: offline=%v products=%d", st.Offline, len(st.Products))
		}
	})

	s.mu.Lock()
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		unwatch()
		next.Close()
		return false
	default:
	}
	prev, prevUnwatch := s.session, s.unwatch
	s.session, s.unwatch = next, unwatch
	s.mu.Unlock()

	if prev != nil {
		prevUnwatch()
		prev.Close()
	}
	return true
}

// Remount runs a fresh resolution in a new session and serves it once it
// settles. Concurrent calls share one remount.
func (s *Service) Remount(ctx context.Context) (State, error) {
	ch := s.refresh.DoChan("remount", func() (any, error) {
		wait := s.cfg.Source.timeoutDur + s.cfg.Connectivity.timeoutDur + 5*time.Second
		wctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()

		next, err := s.cache.Mount(s.cfg.Source.URL)
		if err != nil {
			return nil, err
		}
		st, err := next.Wait(wctx)
		if err != nil {
			next.Close()
			return nil, err
		}
		if !s.swap(next) {
			return nil, errServiceClosed
		}
		return st, nil
	})
	select {
	case <-ctx.Done():
		return State{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return State{}, res.Err
		}
		return res.Val.(State), nil
	}
}

func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/products", s.handleProducts).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/v1/categories", s.handleCategories).Methods(http.MethodGet)
	r.HandleFunc("/v1/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// productView is the product as received plus a computed finalPrice key.
type productView struct {
	product    Product
	finalPrice *decimal.Decimal
}

func (v productView) MarshalJSON() ([]byte, error) {
	b, err := v.product.MarshalJSON()
	if err != nil || v.finalPrice == nil {
		return b, err
	}
	obj := bytes.TrimSpace(b)
	if len(obj) < 2 || obj[0] != '{' || obj[len(obj)-1] != '}' {
		return b, nil
	}
	fp, err := json.Marshal(v.finalPrice)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(obj)+len(fp)+16)
	out = append(out, obj[:len(obj)-1]...)
	if len(bytes.TrimSpace(obj[1:len(obj)-1])) > 0 {
		out = append(out, ',')
	}
	out = append(out, `"finalPrice":`...)
	out = append(out, fp...)
	return append(out, '}'), nil
}

type productsResponse struct {
	Products []productView `json:"products"`
	Loading  bool          `json:"loading"`
	Error    string        `json:"error,omitempty"`
	Offline  bool          `json:"offline"`
}

func (s *Service) handleProducts(w http.ResponseWriter, r *http.Request) {
	sess := s.Session()
	if sess == nil {
		http.Error(w, "service closed", http.StatusServiceUnavailable)
		return
	}
	writeState(w, r, sess.State())
}

func writeState(w http.ResponseWriter, r *http.Request, st State) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))

	resp := productsResponse{
		Products: make([]productView, 0, len(st.Products)),
		Loading:  st.Loading,
		Error:    st.Error,
		Offline:  st.Offline,
	}
	for _, p := range st.Products {
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) {
			continue
		}
		v := productView{product: p}
		if fp, ok := p.FinalPrice(); ok {
			v.finalPrice = &fp
		}
		resp.Products = append(resp.Products, v)
	}

	mode := "online"
	if st.Offline {
		mode = "offline"
	}
	w.Header().Set("X-Storefront", mode)
	writeJSON(w, r, resp)
}

type categoryView struct {
	Name     string `json:"name"`
	Products int    `json:"products"`
	InStock  int    `json:"inStock"`
}

func (s *Service) handleCategories(w http.ResponseWriter, r *http.Request) {
	sess := s.Session()
	if sess == nil {
		http.Error(w, "service closed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, r, categoriesOf(sess.State().Products))
}

func categoriesOf(products []Product) []categoryView {
	idx := map[string]*categoryView{}
	for _, p := range products {
		c, ok := idx[p.Category]
		if !ok {
			c = &categoryView{Name: p.Category}
			idx[p.Category] = c
		}
		c.Products++
		if p.InStock {
			c.InStock++
		}
	}
	out := make([]categoryView, 0, len(idx))
	for _, c := range idx {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	st, err := s.Remount(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeState(w, r, st)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(b))
	w.Header().Set("ETag", etag)
	if r.Method == http.MethodGet && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			line := fmt.Sprintf(
				"Resolutions: fresh=%d cached=%d failed=%d, Payload min/avg/max %s/%s/%s",
				ss.Fresh, ss.Cached, ss.Failed,
				formatBytes(ss.MinPayload),
				formatBytes(ss.AvgPayload),
				formatBytes(ss.MaxPayload),
			)
			if ds, ok := s.store.(*DiskStore); ok {
				if meta, ok := ds.Meta(); ok {
					line += fmt.Sprintf(", Cached: %d products %s stored %s",
						meta.Products, formatBytes(uint64(meta.Size)), meta.Time().UTC().Format(time.RFC3339))
				}
			}
			log.Print(line)
		}
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
