package storefront

import (
	"context"
	"log"
	"time"

	"github.com/go-faster/errors"

	"storefront/internal/metrics"
)

// Phase is a step of one resolution.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseCheckingConnectivity
	PhaseFetchingNetwork
	PhaseReadingCache
	PhaseSuccess
	PhaseFailed
	PhaseSettled
)

var phaseNames = [...]string{
	PhaseInit:                 "init",
	PhaseCheckingConnectivity: "checking-connectivity",
	PhaseFetchingNetwork:      "fetching-network",
	PhaseReadingCache:         "reading-cache",
	PhaseSuccess:              "success",
	PhaseFailed:               "failed",
	PhaseSettled:              "settled",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

type resolution struct {
	products []Product
	err      error
	outcome  string
	trace    []Phase
}

func (r *resolution) enter(p Phase) { r.trace = append(r.trace, p) }

func (r *resolution) succeed(products []Product, outcome string) resolution {
	r.enter(PhaseSuccess)
	r.enter(PhaseSettled)
	r.products, r.err, r.outcome = products, nil, outcome
	return *r
}

func (r *resolution) fail(err error) resolution {
	r.enter(PhaseFailed)
	r.enter(PhaseSettled)
	r.err, r.outcome = err, metrics.OutcomeFailed
	return *r
}

type resolver struct {
	store   ProductStore
	fetcher Fetcher
	conn    Connectivity

	now     func() time.Time
	expiry  time.Duration
	enforce bool

	staleLog *rateLimitedLogger
}

// resolve runs the fetch-or-cache protocol once. setOffline is called as
// soon as connectivity is known.
func (r *resolver) resolve(ctx context.Context, url string, setOffline func(bool)) resolution {
	var res resolution
	res.enter(PhaseInit)

	res.enter(PhaseCheckingConnectivity)
	connected, err := r.conn.Connected(ctx)
	if err != nil {
		return r.fallback(ctx, &res, errors.Wrap(err, "check connectivity"))
	}
	setOffline(!connected)

	if !connected {
		res.enter(PhaseReadingCache)
		ent, err := r.readCache(ctx)
		if err != nil {
			return res.fail(err)
		}
		return res.succeed(ent.Data, metrics.OutcomeCached)
	}

	res.enter(PhaseFetchingNetwork)
	products, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return r.fallback(ctx, &res, err)
	}
	// The session is gone; a late completion must not rewrite the cache.
	if err := ctx.Err(); err != nil {
		return res.fail(err)
	}

	ent := CacheEntry{Data: products, Timestamp: r.now().UnixMilli()}
	if err := r.store.Save(ctx, ent); err != nil {
		metrics.IncCacheWrite(false)
		log.Printf("store: save %d products: %v", len(products), err)
	} else {
		metrics.IncCacheWrite(true)
	}
	return res.succeed(products, metrics.OutcomeFresh)
}

// fallback substitutes cached data for a failed step. The triggering failure
// is kept only when the cache has nothing usable either.
func (r *resolver) fallback(ctx context.Context, res *resolution, cause error) resolution {
	res.enter(PhaseReadingCache)
	ent, err := r.readCache(ctx)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Printf("resolve: cache fallback: %v", err)
		}
		return res.fail(cause)
	}
	log.Printf("resolve: serving %d cached products after: %v", len(ent.Data), cause)
	return res.succeed(ent.Data, metrics.OutcomeCached)
}

func (r *resolver) readCache(ctx context.Context) (CacheEntry, error) {
	ent, err := r.store.Load(ctx)
	if err != nil {
		return CacheEntry{}, err
	}
	if !ent.isStale(r.now(), r.expiry) {
		return ent, nil
	}
	age := r.now().Sub(ent.StoredAt()).Round(time.Second)
	if r.enforce {
		return CacheEntry{}, &Failure{
			Kind:    ErrCacheMiss,
			Message: msgNoCachedData,
			Cause:   errors.Errorf("cached entry is %s old, expiration %s", age, r.expiry),
		}
	}
	r.staleLog.Printf("resolve: serving cached entry %s old (expiration %s not enforced)", age, r.expiry)
	return ent, nil
}
