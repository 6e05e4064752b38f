package engine

import (
	"sort"
	"sync"
	"time"
)

// Value is a telemetry reading that may not have been read yet.
// It is a plain value type so snapshot copies share no memory.
type Value[T any] struct {
	v  T
	ok bool
}

// Some wraps a successfully read value.
func Some[T any](v T) Value[T] { return Value[T]{v: v, ok: true} }

// Get returns the value and whether it has ever been read.
func (v Value[T]) Get() (T, bool) { return v.v, v.ok }

// Or returns the value, or fallback if it was never read.
func (v Value[T]) Or(fallback T) T {
	if v.ok {
		return v.v
	}
	return fallback
}

// ServoState mirrors one servo. MeasuredPosition is written only by poll
// reads and CommandedPosition only by command application, so a slider
// driving the commanded value is never yanked back by the next poll tick.
type ServoState struct {
	ID                uint8
	MeasuredPosition  uint16
	CommandedPosition uint16
	Temperature       Value[uint8]
	Voltage           Value[float64]
	Current           Value[float64]
	Load              Value[float64]
	Speed             Value[int16]
	Moving            Value[bool]
	TorqueOn          bool
	LastUpdate        time.Time
}

// CycleStats is bookkeeping the worker publishes for the status pane.
type CycleStats struct {
	Cycles    uint64
	LastCycle time.Duration
	LastError string
}

// State holds the application's live data: the servo registry plus
// connection status. The worker is the sole writer; the surface reads
// through Snapshot. The mutex is held only for in-memory mutation or
// copying, never across a hardware round trip.
type State struct {
	mu        sync.Mutex
	servos    map[uint8]*ServoState
	connected bool
	status    string
	stats     CycleStats
}

func NewState() *State {
	return &State{
		servos: make(map[uint8]*ServoState),
		status: "Initializing...",
	}
}

// Snapshot returns a moment-in-time copy of every servo, ordered by ID.
func (s *State) Snapshot() []ServoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ServoState, 0, len(s.servos))
	for _, sv := range s.servos {
		out = append(out, *sv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the currently registered servo IDs in ascending order.
func (s *State) IDs() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint8, 0, len(s.servos))
	for id := range s.servos {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *State) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *State) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

func (s *State) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *State) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *State) Stats() CycleStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *State) UpdateStats(elapsed time.Duration, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elapsed > 0 {
		s.stats.Cycles++
		s.stats.LastCycle = elapsed
	}
	if lastErr != "" {
		s.stats.LastError = lastErr
	}
}

// Reconcile atomically replaces the registered ID set with found. Existing
// entries are kept untouched so a rescan never resets CommandedPosition or
// TorqueOn mid-session; fresh entries are inserted; entries for IDs no
// longer present are removed. It returns the IDs that appeared and the IDs
// that went away.
func (s *State) Reconcile(found map[uint8]*ServoState) (added, removed []uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.servos {
		if _, ok := found[id]; !ok {
			delete(s.servos, id)
			removed = append(removed, id)
		}
	}
	for id, sv := range found {
		if _, ok := s.servos[id]; !ok {
			s.servos[id] = sv
			added = append(added, id)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return added, removed
}

// Get returns a copy of one servo's state.
func (s *State) Get(id uint8) (ServoState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.servos[id]
	if !ok {
		return ServoState{}, false
	}
	return *sv, true
}

// The Update* setters below are called only by the worker, with values read
// outside the lock. Each one is a no-op if the ID was removed by a later
// rescan: a poll result for a stale ID is discarded rather than
// resurrecting it.

func (s *State) UpdatePosition(id uint8, pos uint16, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.servos[id]; ok {
		sv.MeasuredPosition = pos
		sv.LastUpdate = now
	}
}

func (s *State) UpdateTemperature(id uint8, temp uint8, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.servos[id]; ok {
		sv.Temperature = Some(temp)
		sv.LastUpdate = now
	}
}

func (s *State) UpdateVoltage(id uint8, v float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.servos[id]; ok {
		sv.Voltage = Some(v)
		sv.LastUpdate = now
	}
}

func (s *State) UpdateCurrent(id uint8, c float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.servos[id]; ok {
		sv.Current = Some(c)
		sv.LastUpdate = now
	}
}

func (s *State) UpdateLoad(id uint8, load float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.servos[id]; ok {
		sv.Load = Some(load)
		sv.LastUpdate = now
	}
}

func (s *State) UpdateSpeed(id uint8, speed int16, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.servos[id]; ok {
		sv.Speed = Some(speed)
		sv.LastUpdate = now
	}
}

func (s *State) UpdateMoving(id uint8, moving bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.servos[id]; ok {
		sv.Moving = Some(moving)
		sv.LastUpdate = now
	}
}

// SetCommanded records intent. Written unconditionally at command
// application so the display reflects intent even if the write fails.
func (s *State) SetCommanded(id uint8, pos uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.servos[id]; ok {
		sv.CommandedPosition = pos
	}
}

// SetTorqueFlag records the optimistic torque state.
func (s *State) SetTorqueFlag(id uint8, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.servos[id]; ok {
		sv.TorqueOn = on
	}
}
