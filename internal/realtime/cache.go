package realtime

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"tracker.onebusaway.org/internal/search"
)

// DefaultRetention is how long a record stays in the cache after a newer
// record for the same key arrives.
const DefaultRetention = 30 * time.Minute

const shardCount = 16

// RecordCache holds recent vehicle location records, oldest first per key.
// Keys are spread over shards by block instance so that writers for
// different blocks do not contend.
type RecordCache struct {
	retention     time.Duration
	shards        [shardCount]*cacheShard
	vehicleShards [shardCount]*vehicleShard
}

type cacheShard struct {
	mu        sync.RWMutex
	instances map[instanceKey]map[string]*recordCollection
}

type vehicleShard struct {
	mu   sync.RWMutex
	keys map[string]map[instanceKey]struct{}
}

type recordCollection struct {
	mu      sync.RWMutex
	key     RecordKey
	records []VehicleLocationRecord
	// removed is set when the collection is evicted while a writer holds it.
	removed bool
}

// NewRecordCache creates a cache. A non-positive retention uses
// DefaultRetention.
func NewRecordCache(retention time.Duration) *RecordCache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	c := &RecordCache{retention: retention}
	for i := range c.shards {
		c.shards[i] = &cacheShard{instances: make(map[instanceKey]map[string]*recordCollection)}
		c.vehicleShards[i] = &vehicleShard{keys: make(map[string]map[instanceKey]struct{})}
	}
	return c
}

func (c *RecordCache) Retention() time.Duration {
	return c.retention
}

func (c *RecordCache) shardFor(ik instanceKey) *cacheShard {
	h := xxhash.Sum64String(ik.blockID + "|" + strconv.FormatInt(ik.serviceDate, 10))
	return c.shards[h%shardCount]
}

func (c *RecordCache) vehicleShardFor(vehicleID string) *vehicleShard {
	return c.vehicleShards[xxhash.Sum64String(vehicleID)%shardCount]
}

// Put stores record. A record with the same time of record as an existing
// one replaces it. Records older than the retention window behind the
// newest record for the key are dropped; Put returns how many.
func (c *RecordCache) Put(record VehicleLocationRecord) int {
	ik := newInstanceKey(record.BlockID, record.ServiceDate)
	for {
		col := c.collectionFor(ik, record.Key())

		col.mu.Lock()
		if col.removed {
			col.mu.Unlock()
			continue
		}
		col.insert(record)
		evicted := col.trim(c.retention)
		col.mu.Unlock()
		return evicted
	}
}

func (c *RecordCache) collectionFor(ik instanceKey, key RecordKey) *recordCollection {
	s := c.shardFor(ik)

	s.mu.RLock()
	col := s.instances[ik][key.VehicleID]
	s.mu.RUnlock()
	if col != nil {
		return col
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byVehicle, ok := s.instances[ik]
	if !ok {
		byVehicle = make(map[string]*recordCollection)
		s.instances[ik] = byVehicle
	}
	if col, ok = byVehicle[key.VehicleID]; ok {
		return col
	}
	col = &recordCollection{key: key}
	byVehicle[key.VehicleID] = col

	vs := c.vehicleShardFor(key.VehicleID)
	vs.mu.Lock()
	keys, ok := vs.keys[key.VehicleID]
	if !ok {
		keys = make(map[instanceKey]struct{})
		vs.keys[key.VehicleID] = keys
	}
	keys[ik] = struct{}{}
	vs.mu.Unlock()

	return col
}

func timeOfRecord(r VehicleLocationRecord) time.Time { return r.TimeOfRecord }

func (col *recordCollection) insert(record VehicleLocationRecord) {
	idx := search.SearchTimes(col.records, record.TimeOfRecord, timeOfRecord)
	if idx < len(col.records) && col.records[idx].TimeOfRecord.Equal(record.TimeOfRecord) {
		col.records[idx] = record
		return
	}
	col.records = slices.Insert(col.records, idx, record)
}

func (col *recordCollection) trim(retention time.Duration) int {
	if len(col.records) == 0 {
		return 0
	}
	cutoff := col.records[len(col.records)-1].TimeOfRecord.Add(-retention)
	n := 0
	for n < len(col.records) && col.records[n].TimeOfRecord.Before(cutoff) {
		n++
	}
	if n > 0 {
		col.records = slices.Delete(col.records, 0, n)
	}
	return n
}

func (col *recordCollection) snapshot() []VehicleLocationRecord {
	col.mu.RLock()
	defer col.mu.RUnlock()
	return slices.Clone(col.records)
}

// GetRecords returns a copy of the records stored under key.
func (c *RecordCache) GetRecords(key RecordKey) []VehicleLocationRecord {
	ik := newInstanceKey(key.BlockID, key.ServiceDate)
	s := c.shardFor(ik)

	s.mu.RLock()
	col := s.instances[ik][key.VehicleID]
	s.mu.RUnlock()
	if col == nil {
		return nil
	}
	return col.snapshot()
}

// GetRecordsForBlockInstance returns the records of every vehicle that
// reported against the block instance, oldest first.
func (c *RecordCache) GetRecordsForBlockInstance(blockID string, serviceDate time.Time) []VehicleLocationRecord {
	ik := newInstanceKey(blockID, serviceDate)
	s := c.shardFor(ik)

	s.mu.RLock()
	cols := make([]*recordCollection, 0, len(s.instances[ik]))
	for _, col := range s.instances[ik] {
		cols = append(cols, col)
	}
	s.mu.RUnlock()

	var records []VehicleLocationRecord
	for _, col := range cols {
		records = append(records, col.snapshot()...)
	}
	sortByTime(records)
	return records
}

// GetRecordsForVehicle returns every record the vehicle reported, across
// blocks, oldest first.
func (c *RecordCache) GetRecordsForVehicle(vehicleID string) []VehicleLocationRecord {
	vs := c.vehicleShardFor(vehicleID)
	vs.mu.RLock()
	keys := make([]instanceKey, 0, len(vs.keys[vehicleID]))
	for ik := range vs.keys[vehicleID] {
		keys = append(keys, ik)
	}
	vs.mu.RUnlock()

	var records []VehicleLocationRecord
	for _, ik := range keys {
		s := c.shardFor(ik)
		s.mu.RLock()
		col := s.instances[ik][vehicleID]
		s.mu.RUnlock()
		if col != nil {
			records = append(records, col.snapshot()...)
		}
	}
	sortByTime(records)
	return records
}

func sortByTime(records []VehicleLocationRecord) {
	slices.SortStableFunc(records, func(a, b VehicleLocationRecord) int {
		return a.TimeOfRecord.Compare(b.TimeOfRecord)
	})
}

// Keys lists every key currently held.
func (c *RecordCache) Keys() []RecordKey {
	var keys []RecordKey
	for _, s := range c.shards {
		s.mu.RLock()
		for _, byVehicle := range s.instances {
			for _, col := range byVehicle {
				keys = append(keys, col.key)
			}
		}
		s.mu.RUnlock()
	}
	return keys
}

// EvictStale drops every key whose newest record is older than the
// retention window before now. It returns the number of records dropped.
func (c *RecordCache) EvictStale(now time.Time) int {
	cutoff := now.Add(-c.retention)
	evicted := 0

	for _, s := range c.shards {
		s.mu.Lock()
		for ik, byVehicle := range s.instances {
			for vehicleID, col := range byVehicle {
				col.mu.Lock()
				if n := len(col.records); n == 0 || col.records[n-1].TimeOfRecord.Before(cutoff) {
					evicted += n
					col.removed = true
					delete(byVehicle, vehicleID)
					c.unindexVehicle(vehicleID, ik)
				}
				col.mu.Unlock()
			}
			if len(byVehicle) == 0 {
				delete(s.instances, ik)
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

func (c *RecordCache) unindexVehicle(vehicleID string, ik instanceKey) {
	vs := c.vehicleShardFor(vehicleID)
	vs.mu.Lock()
	defer vs.mu.Unlock()
	keys := vs.keys[vehicleID]
	delete(keys, ik)
	if len(keys) == 0 {
		delete(vs.keys, vehicleID)
	}
}

// Clear drops everything.
func (c *RecordCache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		for ik, byVehicle := range s.instances {
			for vehicleID, col := range byVehicle {
				col.mu.Lock()
				col.removed = true
				col.mu.Unlock()
				c.unindexVehicle(vehicleID, ik)
			}
		}
		s.instances = make(map[instanceKey]map[string]*recordCollection)
		s.mu.Unlock()
	}
}

// Len returns the number of keys held.
func (c *RecordCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		for _, byVehicle := range s.instances {
			n += len(byVehicle)
		}
		s.mu.RUnlock()
	}
	return n
}
