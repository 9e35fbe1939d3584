package pricing

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/units"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func quote(price int64) api.PriceQuote {
	return api.PriceQuote{UnitPrice: decimal.NewFromInt(price), Official: true, Tier: TierReference}
}

func TestMemoryCacheExactAndExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(24 * time.Hour).WithClock(clock.Now)

	c.Set(NewCacheKey("Cold Mix Asphalt", units.UnitCum), quote(9000))

	got, ok := c.Lookup(NewCacheKey("cold mix  asphalt", units.UnitCum))
	require.True(t, ok)
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(9000)))

	_, ok = c.Lookup(NewCacheKey("cold mix asphalt", units.UnitSqm))
	assert.False(t, ok, "unit is part of the key")

	clock.Advance(24 * time.Hour)
	_, ok = c.Lookup(NewCacheKey("cold mix asphalt", units.UnitCum))
	assert.False(t, ok, "entry expires after the TTL")
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCachePrefixLookup(t *testing.T) {
	c := NewMemoryCache(0)
	c.Set(NewCacheKey("cold mix asphalt", units.UnitCum), quote(9000))
	c.Set(NewCacheKey("cold mix asphalt premium grade", units.UnitCum), quote(9900))

	got, ok := c.Lookup(NewCacheKey("cold mix", units.UnitCum))
	require.True(t, ok)
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(9900)), "longest name wins")

	got, ok = c.Lookup(NewCacheKey("cold mix asphalt premium grade bagged", units.UnitCum))
	require.True(t, ok)
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(9900)))

	_, ok = c.Lookup(NewCacheKey("cold mi", units.UnitCum))
	assert.False(t, ok, "prefix must end on a word boundary")
}

func TestMemoryCacheConcurrentAccess(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := NewCacheKey(fmt.Sprintf("item %d", i%4), units.UnitNos)
			c.Set(key, quote(int64(i)))
			_, _ = c.Lookup(key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, c.Len())
}
