package metadata

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache holds station lookups for one run. Concurrent lookups of the same
// key share a single fetch. A station found for one date also answers later
// dates it covers. ErrNotFound results are remembered for the rest of that
// UTC day; other errors are not remembered.
type Cache struct {
	mu        sync.RWMutex
	byKey     map[string]*Station
	byStation map[string][]*Station
	missing   map[string]error

	group   singleflight.Group
	fetches atomic.Int64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		byKey:     make(map[string]*Station),
		byStation: make(map[string][]*Station),
		missing:   make(map[string]error),
	}
}

// dayKey groups lookups of one station on one UTC day; they share a fetch.
func dayKey(stationID string, date time.Time) string {
	return stationID + "@" + date.UTC().Format(time.DateOnly)
}

// Get returns a cached answer. ok is false when the key has never been
// resolved; err is non-nil for a remembered miss.
func (c *Cache) Get(stationID string, date time.Time) (st *Station, ok bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.byKey[dayKey(stationID, date)]; ok && st.Covers(date) {
		return st, true, nil
	}
	for _, st := range c.byStation[stationID] {
		if st.Covers(date) {
			return st, true, nil
		}
	}
	if err, ok := c.missing[dayKey(stationID, date)]; ok {
		return nil, true, err
	}
	return nil, false, nil
}

// Do returns the cached answer for (stationID, date), calling fetch when
// there is none. Concurrent callers for the same station and day share a
// single call.
func (c *Cache) Do(stationID string, date time.Time, fetch func() (*Station, error)) (*Station, error) {
	if st, ok, err := c.Get(stationID, date); ok {
		return st, err
	}

	v, err, shared := c.group.Do(dayKey(stationID, date), func() (interface{}, error) {
		if st, ok, err := c.Get(stationID, date); ok {
			return st, err
		}
		return c.fetch(stationID, date, fetch)
	})
	if err != nil {
		return nil, err
	}
	st, _ := v.(*Station)
	if shared && (st == nil || !st.Covers(date)) {
		// the shared call was made for another time of day
		if st, ok, err := c.Get(stationID, date); ok {
			return st, err
		}
		v, err = c.fetch(stationID, date, fetch)
		if err != nil {
			return nil, err
		}
		st, _ = v.(*Station)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: station %q", ErrNotFound, stationID)
	}
	return st, nil
}

func (c *Cache) fetch(stationID string, date time.Time, fetch func() (*Station, error)) (interface{}, error) {
	c.fetches.Add(1)
	st, err := fetch()
	switch {
	case err == nil:
		c.put(dayKey(stationID, date), st)
		return st, nil
	case errors.Is(err, ErrNotFound):
		c.mu.Lock()
		c.missing[dayKey(stationID, date)] = err
		c.mu.Unlock()
	}
	return nil, err
}

func (c *Cache) put(key string, st *Station) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[key] = st
	c.byStation[st.StationID] = append(c.byStation[st.StationID], st)
}

// Fetches counts the calls made to fetch functions.
func (c *Cache) Fetches() int64 { return c.fetches.Load() }

// Len returns the number of distinct station periods held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, list := range c.byStation {
		n += len(list)
	}
	return n
}
