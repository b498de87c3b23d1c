package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/amishk599/jobflow/internal/model"
)

// KeyedLimiter enforces a minimum delay between calls sharing a key, such as
// the same LLM provider or the same portal host. Keys never block each other.
type KeyedLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	minDelay  time.Duration
	overrides map[string]time.Duration
}

// NewKeyedLimiter creates a limiter that allows one call per minDelay per key.
// overrides replaces minDelay for specific keys.
func NewKeyedLimiter(minDelay time.Duration, overrides map[string]time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		limiters:  make(map[string]*rate.Limiter),
		minDelay:  minDelay,
		overrides: overrides,
	}
}

func (r *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		delay := r.minDelay
		if d, ok := r.overrides[key]; ok {
			delay = d
		}
		limit := rate.Inf
		if delay > 0 {
			limit = rate.Every(delay)
		}
		l = rate.NewLimiter(limit, 1)
		r.limiters[key] = l
	}
	return l
}

// Wait blocks until a call for key is allowed.
// Returns an error if the context is cancelled while waiting.
func (r *KeyedLimiter) Wait(ctx context.Context, key string) error {
	if err := r.limiterFor(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", key, err)
	}
	return nil
}

// RateLimitedClassifier is a decorator that enforces provider-level rate
// limiting before delegating to the wrapped Classifier.
type RateLimitedClassifier struct {
	inner   model.Classifier
	limiter *KeyedLimiter
	key     string
}

// NewRateLimitedClassifier wraps a Classifier. All classifiers targeting the
// same provider should share the same limiter instance.
func NewRateLimitedClassifier(inner model.Classifier, limiter *KeyedLimiter, key string) *RateLimitedClassifier {
	return &RateLimitedClassifier{
		inner:   inner,
		limiter: limiter,
		key:     key,
	}
}

// Classify waits for the rate limiter, then delegates.
func (c *RateLimitedClassifier) Classify(ctx context.Context, text string) (model.Judgment, error) {
	if err := c.limiter.Wait(ctx, c.key); err != nil {
		return model.Judgment{}, err
	}
	return c.inner.Classify(ctx, text)
}
