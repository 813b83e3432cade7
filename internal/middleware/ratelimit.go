package middleware

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// RateLimit limits requests per client IP; rc may be nil for a process-local store.
func RateLimit(formatted string, rc *redis.Client) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rate %q: %w", formatted, err)
	}

	var store limiter.Store
	if rc != nil {
		store, err = sredis.NewStoreWithOptions(rc, limiter.StoreOptions{Prefix: "explain:limiter"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}

	mw := stdlib.NewMiddleware(limiter.New(store, rate))
	return mw.Handler, nil
}
