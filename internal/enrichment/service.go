package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/datagen24/cowrieprocessor/internal/cache"
)

// providerBinding pairs a Provider with its own token-bucket limiter.
type providerBinding struct {
	provider Provider
	limiter  *rate.Limiter
}

// Service fans a lookup out to every configured provider, each mediated by
// the three-tier cache and rate-limited independently. A provider failure
// never fails the overall enrichment; it is recorded in Document.Errors.
type Service struct {
	bindings map[string]*providerBinding
	cacheTTL map[string]time.Duration
	c        *cache.HybridCache
	log      *log.Logger
}

// NewService builds an enrichment service from the given providers, each
// allowed tokensPerMinute[name] requests per minute (default 60 when
// unspecified).
func NewService(c *cache.HybridCache, providers []Provider, tokensPerMinute map[string]int) *Service {
	bindings := make(map[string]*providerBinding, len(providers))
	for _, p := range providers {
		tpm := tokensPerMinute[p.Name()]
		if tpm <= 0 {
			tpm = 60
		}
		limiter := rate.NewLimiter(rate.Limit(float64(tpm)/60.0), tpm)
		bindings[p.Name()] = &providerBinding{provider: p, limiter: limiter}
	}
	return &Service{
		bindings: bindings,
		c:        c,
		log:      log.New(log.Writer(), "[enrichment] ", log.LstdFlags),
	}
}

// Lookup fans key out to every bound provider concurrently, merging
// cache-hit and freshly-fetched results into one Document.
func (s *Service) Lookup(ctx context.Context, key string) *Document {
	doc := &Document{Results: make(map[string]json.RawMessage), Errors: make(map[string]string)}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, binding := range s.bindings {
		wg.Add(1)
		go func(name string, b *providerBinding) {
			defer wg.Done()
			raw, err := s.lookupOne(ctx, b, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				doc.Errors[name] = err.Error()
				return
			}
			doc.Results[name] = raw
		}(name, binding)
	}
	wg.Wait()

	if len(doc.Errors) == 0 {
		doc.Errors = nil
	}
	return doc
}

// lookupOne checks the cache, then the rate-limited provider on a miss,
// writing the result back through the cache.
func (s *Service) lookupOne(ctx context.Context, b *providerBinding, key string) (json.RawMessage, error) {
	name := b.provider.Name()

	if cached, ok := s.c.Get(ctx, name, key, cache.L1TTLFor("unknown")); ok {
		return json.RawMessage(cached), nil
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("enrichment: %s rate limit wait: %w", name, err)
	}

	raw, err := b.provider.Lookup(ctx, key)
	if err != nil {
		s.log.Printf("%s lookup failed for %s: %v", name, key, err)
		return nil, err
	}

	s.c.Set(ctx, name, key, raw, cache.L1TTLFor("unknown"))
	return raw, nil
}
