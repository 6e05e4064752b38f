package engine

import (
	"fmt"
	"sync"

	"github.com/Cogni-Robot/init-servo/st3215"
)

// Command is the closed set of intents the surface can enqueue.
type Command interface{ isCommand() }

// MoveCmd moves a servo to a goal position. Speed 0 means servo maximum.
type MoveCmd struct {
	ID           uint8
	Position     uint16
	Speed        uint16
	Acceleration uint8
}

// TorqueCmd engages or releases holding torque.
type TorqueCmd struct {
	ID uint8
	On bool
}

// RescanCmd re-runs discovery over the configured ID range.
type RescanCmd struct{}

// ChangeIDCmd reassigns a servo's bus ID. Callers must Validate before
// enqueueing; the exactly-one-servo precondition is the caller's to hold.
type ChangeIDCmd struct {
	CurrentID uint8
	NewID     uint8
}

func (MoveCmd) isCommand()     {}
func (TorqueCmd) isCommand()   {}
func (RescanCmd) isCommand()   {}
func (ChangeIDCmd) isCommand() {}

// Validate rejects malformed ID reassignments before they reach the worker.
func (c ChangeIDCmd) Validate() error {
	if c.NewID > st3215.MaxID {
		return fmt.Errorf("target id %d out of range (0-%d)", c.NewID, st3215.MaxID)
	}
	if c.NewID == c.CurrentID {
		return fmt.Errorf("target id equals current id %d", c.CurrentID)
	}
	return nil
}

// Validate clamps nothing and rejects out-of-range move parameters.
func (c MoveCmd) Validate() error {
	if c.Position > 4095 {
		return fmt.Errorf("position %d out of range (0-4095)", c.Position)
	}
	if c.Speed > 3400 {
		return fmt.Errorf("speed %d out of range (0-3400)", c.Speed)
	}
	return nil
}

// Queue is the single-producer/single-consumer intent queue. Send never
// blocks and never fails; DrainAll never blocks the poll cycle. Order is
// strict FIFO and entries are immutable once enqueued. If no worker is
// running, intents simply accumulate undrained.
type Queue struct {
	mu    sync.Mutex
	items []Command
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Send(c Command) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
}

// DrainAll removes and returns every currently queued command in enqueue
// order, or nil if none are pending.
func (q *Queue) DrainAll() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len reports the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
