// Package dedupe guards the engine's write path against duplicate
// client submissions. A party resubmitting the same clientRequestId
// while the first attempt is still in flight gets a RegistryAlreadyInFlight
// error instead of a second order (spec §4.4, §12). It also throttles
// raw submission volume per party, ahead of the idempotency check, so a
// misbehaving client burst cannot starve the in-flight map.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
)

// Registry tracks per-(party, clientRequestId) request state.
type Registry struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	recent   *cache.Cache // completed keys kept briefly to absorb retries after completion

	submissionRate *limiter.Limiter
}

// New creates a Registry whose completed-request memory expires after
// ttl, rate-limiting each party's submissions to submissionsPerMinute
// (0 disables the throttle).
func New(ttl time.Duration, submissionsPerMinute int64) *Registry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	r := &Registry{
		inFlight: make(map[string]struct{}),
		recent:   cache.New(ttl, ttl*2),
	}
	if submissionsPerMinute > 0 {
		rate := limiter.Rate{Period: time.Minute, Limit: submissionsPerMinute}
		r.submissionRate = limiter.New(memory.NewStore(), rate)
	}
	return r
}

func compositeKey(party, clientRequestID string) string {
	return party + "|" + clientRequestID
}

// Begin registers a new in-flight request, returning an error if party
// has exceeded its submission rate, or if the same (party,
// clientRequestId) is already in flight or was recently completed.
func (r *Registry) Begin(party, clientRequestID string) error {
	if r.submissionRate != nil {
		ctx, err := r.submissionRate.Get(context.Background(), party)
		if err == nil && ctx.Reached {
			return commonerrors.New(commonerrors.Throttled, "dedupe: submission rate exceeded for "+party)
		}
	}

	if clientRequestID == "" {
		return nil // no idempotency key supplied: caller accepts duplicate risk
	}
	key := compositeKey(party, clientRequestID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.inFlight[key]; ok {
		return commonerrors.New(commonerrors.RegistryAlreadyInFlight, "dedupe: request already in flight: "+clientRequestID)
	}
	if _, ok := r.recent.Get(key); ok {
		return commonerrors.New(commonerrors.RegistryAlreadyInFlight, "dedupe: request already processed: "+clientRequestID)
	}
	r.inFlight[key] = struct{}{}
	return nil
}

// Finish releases the in-flight marker and records the key as recently
// completed so a subsequent retry of the same request is still rejected
// for a short grace period rather than silently accepted as new.
func (r *Registry) Finish(party, clientRequestID string) {
	if clientRequestID == "" {
		return
	}
	key := compositeKey(party, clientRequestID)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, key)
	r.recent.SetDefault(key, struct{}{})
}
