package fleet

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fault"
)

// MaxTankRecords bounds the fleet table. The probe table must be at least
// twice this and a power of two.
const (
	MaxTankRecords = 200
	indexSize      = 512
	MaxDeviceMeta  = 100
)

// State is the in-memory fleet table: tank records in insertion order plus
// an open-addressed (device, tank) index with linear probing for O(1)
// lookup. Mutation is confined to the engine's serial task; snapshot reads
// take the read lock.
type State struct {
	mu      sync.RWMutex
	records []*TankRecord
	slots   []int32 // 0 = empty, else records index + 1
	mask    uint32

	devices map[string]*DeviceMeta

	rejected int64
	log      zerolog.Logger
}

func NewState(log zerolog.Logger) *State {
	// Compile-time-ish sizing check: masking only works on a power-of-two
	// table with headroom over the record cap.
	if indexSize&(indexSize-1) != 0 || indexSize < 2*MaxTankRecords {
		panic(fmt.Sprintf("fleet index size %d invalid for %d records", indexSize, MaxTankRecords))
	}
	return &State{
		records: make([]*TankRecord, 0, MaxTankRecords),
		slots:   make([]int32, indexSize),
		mask:    indexSize - 1,
		devices: make(map[string]*DeviceMeta),
		log:     log.With().Str("component", "fleet").Logger(),
	}
}

func hashKey(key Key) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key.DeviceUID))
	h.Write([]byte{0, byte(key.Tank), byte(key.Tank >> 8), byte(key.Tank >> 16), byte(key.Tank >> 24)})
	return h.Sum32()
}

// UpsertTank finds or creates the record for key and applies fn to it
// under the write lock. fn must not block on I/O. A Capacity error is
// returned when the table is full; the table is left unchanged.
func (s *State) UpsertTank(key Key, fn func(*TankRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.upsertLocked(key)
	if err != nil {
		return err
	}
	fn(rec)
	return nil
}

func (s *State) upsertLocked(key Key) (*TankRecord, error) {
	if rec := s.lookupLocked(key); rec != nil {
		return rec, nil
	}
	if len(s.records) >= MaxTankRecords {
		s.rejected++
		return nil, fault.New(fault.Capacity, "fleet table full (%d records), rejecting %s#%d",
			MaxTankRecords, key.DeviceUID, key.Tank)
	}

	rec := &TankRecord{
		DeviceUID:  key.DeviceUID,
		Tank:       key.Tank,
		ObjectType: ObjectTank,
	}
	s.records = append(s.records, rec)

	idx := hashKey(key) & s.mask
	for s.slots[idx] != 0 {
		idx = (idx + 1) & s.mask
	}
	s.slots[idx] = int32(len(s.records)) // 1-based
	return rec, nil
}

// Lookup returns a copy of the record for key.
func (s *State) Lookup(key Key) (TankRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.lookupLocked(key)
	if rec == nil {
		return TankRecord{}, false
	}
	cp := *rec
	cp.SmsTimestamps = append([]float64(nil), rec.SmsTimestamps...)
	return cp, true
}

func (s *State) lookupLocked(key Key) *TankRecord {
	idx := hashKey(key) & s.mask
	for {
		slot := s.slots[idx]
		if slot == 0 {
			return nil
		}
		rec := s.records[slot-1]
		if rec.DeviceUID == key.DeviceUID && rec.Tank == key.Tank {
			return rec
		}
		idx = (idx + 1) & s.mask
	}
}

// MutateTank applies fn to an existing record under the write lock.
// Returns false when the record does not exist.
func (s *State) MutateTank(key Key, fn func(*TankRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.lookupLocked(key)
	if rec == nil {
		return false
	}
	fn(rec)
	return true
}

// Snapshot returns copies of all tank records in insertion order.
func (s *State) Snapshot() []TankRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TankRecord, len(s.records))
	for i, rec := range s.records {
		out[i] = *rec
		out[i].SmsTimestamps = nil
	}
	return out
}

// Len returns the number of live tank records.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Rejected returns the count of capacity-rejected insertions.
func (s *State) Rejected() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rejected
}

// UpsertDevice finds or creates the metadata entry for a device and
// applies fn under the write lock. The device table is bounded; overflow
// rejects the insertion.
func (s *State) UpsertDevice(uid string, fn func(*DeviceMeta)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.devices[uid]
	if !ok {
		if len(s.devices) >= MaxDeviceMeta {
			s.rejected++
			return fault.New(fault.Capacity, "device table full (%d), rejecting %s", MaxDeviceMeta, uid)
		}
		meta = &DeviceMeta{DeviceUID: uid}
		s.devices[uid] = meta
	}
	fn(meta)
	return nil
}

// Device returns a copy of the metadata for uid.
func (s *State) Device(uid string) (DeviceMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.devices[uid]
	if !ok {
		return DeviceMeta{}, false
	}
	return *meta, true
}

// Devices returns copies of all device metadata entries.
func (s *State) Devices() []DeviceMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeviceMeta, 0, len(s.devices))
	for _, meta := range s.devices {
		out = append(out, *meta)
	}
	return out
}
