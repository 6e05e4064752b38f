package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Cogni-Robot/init-servo/config"
	"github.com/Cogni-Robot/init-servo/database"
	"github.com/Cogni-Robot/init-servo/st3215"
)

// tempAlarmHysteresis keeps an alarm latched until the servo has cooled
// this far below the limit.
const tempAlarmHysteresis = 5

// Worker owns the Link and the connection lifecycle. It is the only
// goroutine that touches hardware and the only writer of State. One
// iteration: reconnect if needed, drain and apply commands, refresh
// telemetry, signal the surface, sleep out the interval.
type Worker struct {
	state  *State
	queue  *Queue
	dial   func() (Link, error)
	events chan<- database.Event
	notify chan struct{}
	log    *log.Logger

	scanMin, scanMax uint8
	interval         time.Duration
	cooldown         time.Duration
	tempLimit        uint8

	link        Link
	cycle       uint64
	lastAttempt time.Time
	hot         map[uint8]bool
}

// NewWorker wires a worker. dial performs ONE connection attempt per call;
// events may be nil to disable the event log.
func NewWorker(cfg *config.Config, state *State, queue *Queue, dial func() (Link, error), events chan<- database.Event, logger *log.Logger) *Worker {
	return &Worker{
		state:     state,
		queue:     queue,
		dial:      dial,
		events:    events,
		notify:    make(chan struct{}, 1),
		log:       logger,
		scanMin:   cfg.Scan.MinID,
		scanMax:   cfg.Scan.MaxID,
		interval:  cfg.PollInterval(),
		cooldown:  cfg.Cooldown(),
		tempLimit: cfg.TempLimit(),
		hot:       make(map[uint8]bool),
	}
}

// Notify returns the repaint channel. At most one signal is pending at a
// time; the surface coalesces the rest.
func (w *Worker) Notify() <-chan struct{} { return w.notify }

// Run executes the poll loop until ctx is cancelled. Cancellation is
// checked between iterations, never mid-request.
func (w *Worker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	w.log.Println("Servo Worker Goroutine Started.")
	for {
		select {
		case <-ctx.Done():
			w.log.Println("Servo Worker Goroutine shutting down.")
			if w.link != nil {
				w.link.Close()
				w.link = nil
			}
			return
		default:
		}

		start := time.Now()
		if w.link == nil {
			w.tryConnect(start)
		}
		if w.link != nil {
			w.runCycle(time.Now())
			w.state.UpdateStats(time.Since(start), "")
		}

		elapsed := time.Since(start)
		if elapsed < w.interval {
			select {
			case <-ctx.Done():
			case <-time.After(w.interval - elapsed):
			}
		}
	}
}

// tryConnect attempts one reconnect, spaced by at least the cooldown since
// the previous attempt so a device mid-reset is not hot-looped.
func (w *Worker) tryConnect(now time.Time) {
	if !w.lastAttempt.IsZero() && now.Sub(w.lastAttempt) < w.cooldown {
		return
	}
	w.lastAttempt = now
	w.state.SetStatus("Connecting...")
	link, err := w.dial()
	if err != nil {
		w.state.SetStatus(fmt.Sprintf("Connection failed: %v", err))
		return
	}
	w.link = link
	if err := w.discover(now); err != nil {
		// Scan aborted by a transport fault: not connected after all.
		w.dropLink(err)
		return
	}
	w.state.SetConnected(true)
	w.state.SetStatus("Connected")
	w.log.Printf("SOE: [LINK_UP] scanning ids %d-%d", w.scanMin, w.scanMax)
	w.emit(database.Event{Timestamp: now, Subject: "link", NewValue: "CONNECTED", EventType: "LINK_UP"})
	w.notifySurface()
}

// discover probes every ID in the configured range with a position read.
// A silent ID is simply not present; a link failure aborts the scan.
// Surviving entries are left untouched so commanded positions and torque
// flags persist across a rescan.
func (w *Worker) discover(now time.Time) error {
	found := make(map[uint8]*ServoState)
	for id := w.scanMin; ; id++ {
		pos, err := w.link.ReadPosition(id)
		if err == nil {
			sv := &ServoState{
				ID:                id,
				MeasuredPosition:  pos,
				CommandedPosition: pos, // no spurious motion at discovery
				TorqueOn:          false,
				LastUpdate:        now,
			}
			if temp, err := w.link.ReadTemperature(id); err == nil {
				sv.Temperature = Some(temp)
			} else if st3215.IsLinkFailure(err) {
				return err
			}
			if volt, err := w.link.ReadVoltage(id); err == nil {
				sv.Voltage = Some(volt)
			} else if st3215.IsLinkFailure(err) {
				return err
			}
			found[id] = sv
		} else if st3215.IsLinkFailure(err) {
			return err
		}
		if id == w.scanMax {
			break
		}
	}

	added, removed := w.state.Reconcile(found)
	for _, id := range added {
		w.log.Printf("SOE: [SERVO_FOUND] id %d", id)
		w.emit(database.Event{Timestamp: now, Subject: fmt.Sprintf("servo %d", id), NewValue: "PRESENT", EventType: "SERVO_FOUND"})
	}
	for _, id := range removed {
		w.log.Printf("SOE: [SERVO_LOST] id %d", id)
		w.emit(database.Event{Timestamp: now, Subject: fmt.Sprintf("servo %d", id), NewValue: "ABSENT", EventType: "SERVO_LOST"})
		delete(w.hot, id)
	}
	return nil
}

// runCycle performs one iteration: commands strictly before telemetry, so a
// just-issued move shows up in the very next read.
func (w *Worker) runCycle(now time.Time) {
	for _, cmd := range w.queue.DrainAll() {
		if err := w.apply(cmd, now); err != nil {
			w.dropLink(err)
			return
		}
	}

	for _, id := range w.state.IDs() {
		if err := w.pollServo(id, now); err != nil {
			w.dropLink(err)
			return
		}
	}

	w.cycle++
	w.notifySurface()
}

// apply executes one intent. Only a link failure is returned; everything
// else is absorbed here.
func (w *Worker) apply(cmd Command, now time.Time) error {
	switch c := cmd.(type) {
	case MoveCmd:
		// Intent is recorded unconditionally: the display reflects what
		// was asked for, not what the hardware confirmed.
		w.state.SetCommanded(c.ID, c.Position)
		if sv, ok := w.state.Get(c.ID); ok && !sv.TorqueOn {
			// Central torque-before-move policy.
			w.state.SetTorqueFlag(c.ID, true)
			if err := w.link.SetTorque(c.ID, true); err != nil {
				if st3215.IsLinkFailure(err) {
					return err
				}
				w.log.Printf("SOE: [USER_COMMAND] torque-on before move failed for id %d: %v", c.ID, err)
			}
		}
		w.log.Printf("SOE: [USER_COMMAND] move id %d to %d (speed %d, accel %d)", c.ID, c.Position, c.Speed, c.Acceleration)
		w.emit(database.Event{Timestamp: now, Subject: fmt.Sprintf("servo %d", c.ID), NewValue: fmt.Sprintf("move to %d", c.Position), EventType: "USER_COMMAND"})
		if err := w.link.Move(c.ID, c.Position, c.Speed, c.Acceleration); err != nil {
			if st3215.IsLinkFailure(err) {
				return err
			}
			w.log.Printf("SOE: move write failed for id %d: %v", c.ID, err)
		}

	case TorqueCmd:
		// Optimistic: the flag leads the hardware and is not rolled back
		// on failure.
		w.state.SetTorqueFlag(c.ID, c.On)
		stateText := "OFF"
		if c.On {
			stateText = "ON"
		}
		w.log.Printf("SOE: [USER_COMMAND] torque id %d %s", c.ID, stateText)
		w.emit(database.Event{Timestamp: now, Subject: fmt.Sprintf("servo %d", c.ID), NewValue: "torque " + stateText, EventType: "USER_COMMAND"})
		if err := w.link.SetTorque(c.ID, c.On); err != nil {
			if st3215.IsLinkFailure(err) {
				return err
			}
			w.log.Printf("SOE: torque write failed for id %d: %v", c.ID, err)
		}

	case RescanCmd:
		w.log.Println("SOE: [USER_COMMAND] rescan")
		w.emit(database.Event{Timestamp: now, Subject: "link", NewValue: "rescan", EventType: "USER_COMMAND"})
		return w.discover(now)

	case ChangeIDCmd:
		w.log.Printf("SOE: [USER_COMMAND] change id %d -> %d", c.CurrentID, c.NewID)
		if err := w.link.ChangeID(c.CurrentID, c.NewID); err != nil {
			if st3215.IsLinkFailure(err) {
				return err
			}
			w.log.Printf("SOE: id change %d -> %d failed: %v", c.CurrentID, c.NewID, err)
			return nil
		}
		w.emit(database.Event{
			Timestamp: now, Subject: fmt.Sprintf("servo %d", c.CurrentID),
			PreviousValue: fmt.Sprintf("%d", c.CurrentID), NewValue: fmt.Sprintf("%d", c.NewID),
			EventType: "USER_COMMAND",
		})
		// The registry keys by ID, so a reassignment is a topology change.
		return w.discover(now)
	}
	return nil
}

// pollServo refreshes one servo's telemetry. Position and temperature are
// read every cycle; the remaining fields rotate one per cycle so worst-case
// cycle latency stays O(servos), not O(servos x fields). A failed field
// read leaves the previous value standing.
func (w *Worker) pollServo(id uint8, now time.Time) error {
	if pos, err := w.link.ReadPosition(id); err == nil {
		w.state.UpdatePosition(id, pos, now)
	} else if st3215.IsLinkFailure(err) {
		return err
	}

	if temp, err := w.link.ReadTemperature(id); err == nil {
		w.state.UpdateTemperature(id, temp, now)
		w.checkTempAlarm(id, temp, now)
	} else if st3215.IsLinkFailure(err) {
		return err
	}

	switch w.cycle % 5 {
	case 0:
		if v, err := w.link.ReadVoltage(id); err == nil {
			w.state.UpdateVoltage(id, v, now)
		} else if st3215.IsLinkFailure(err) {
			return err
		}
	case 1:
		if c, err := w.link.ReadCurrent(id); err == nil {
			w.state.UpdateCurrent(id, c, now)
		} else if st3215.IsLinkFailure(err) {
			return err
		}
	case 2:
		if l, err := w.link.ReadLoad(id); err == nil {
			w.state.UpdateLoad(id, l, now)
		} else if st3215.IsLinkFailure(err) {
			return err
		}
	case 3:
		if s, err := w.link.ReadSpeed(id); err == nil {
			w.state.UpdateSpeed(id, s, now)
		} else if st3215.IsLinkFailure(err) {
			return err
		}
	case 4:
		if m, err := w.link.ReadMoving(id); err == nil {
			w.state.UpdateMoving(id, m, now)
		} else if st3215.IsLinkFailure(err) {
			return err
		}
	}
	return nil
}

func (w *Worker) checkTempAlarm(id uint8, temp uint8, now time.Time) {
	if w.tempLimit == 0 {
		return
	}
	subject := fmt.Sprintf("servo %d", id)
	if temp >= w.tempLimit && !w.hot[id] {
		w.hot[id] = true
		w.log.Printf("SOE: [ALARM_RAISED] %s at %d C (limit %d)", subject, temp, w.tempLimit)
		w.emit(database.Event{Timestamp: now, Subject: subject, NewValue: fmt.Sprintf("%d", temp), Units: "C", EventType: "ALARM_RAISED"})
	} else if w.hot[id] && temp+tempAlarmHysteresis < w.tempLimit {
		delete(w.hot, id)
		w.log.Printf("SOE: [ALARM_CLEARED] %s at %d C", subject, temp)
		w.emit(database.Event{Timestamp: now, Subject: subject, NewValue: fmt.Sprintf("%d", temp), Units: "C", EventType: "ALARM_CLEARED"})
	}
}

// dropLink transitions Connected -> Disconnected. Registry entries keep
// their last-known values for display; only the connected flag drops. The
// next reconnect attempt waits out the cooldown.
func (w *Worker) dropLink(err error) {
	w.log.Printf("SOE: [LINK_DOWN] %v", err)
	w.emit(database.Event{Timestamp: time.Now(), Subject: "link", NewValue: "DISCONNECTED", EventType: "LINK_DOWN"})
	if w.link != nil {
		w.link.Close()
		w.link = nil
	}
	w.state.SetConnected(false)
	w.state.SetStatus(fmt.Sprintf("Disconnected: %v", err))
	w.state.UpdateStats(0, err.Error())
	w.lastAttempt = time.Now()
	w.notifySurface()
}

// notifySurface signals fresh data without ever blocking the cycle.
func (w *Worker) notifySurface() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// emit publishes an event best-effort: if the writer is backed up the event
// is dropped rather than stalling the poll cycle.
func (w *Worker) emit(ev database.Event) {
	if w.events == nil {
		return
	}
	select {
	case w.events <- ev:
	default:
	}
}
