package engine

import "testing"

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	q.Send(TorqueCmd{ID: 1, On: true})
	q.Send(MoveCmd{ID: 1, Position: 100})
	q.Send(RescanCmd{})

	if q.Len() != 3 {
		t.Fatalf("expected 3 pending, got %d", q.Len())
	}

	got := q.DrainAll()
	if len(got) != 3 {
		t.Fatalf("expected 3 drained, got %d", len(got))
	}
	if _, ok := got[0].(TorqueCmd); !ok {
		t.Fatalf("entry 0: expected TorqueCmd, got %T", got[0])
	}
	if mv, ok := got[1].(MoveCmd); !ok || mv.Position != 100 {
		t.Fatalf("entry 1: expected MoveCmd{100}, got %#v", got[1])
	}
	if _, ok := got[2].(RescanCmd); !ok {
		t.Fatalf("entry 2: expected RescanCmd, got %T", got[2])
	}
}

func TestQueue_DrainEmpty(t *testing.T) {
	q := NewQueue()
	if got := q.DrainAll(); got != nil {
		t.Fatalf("expected nil from empty drain, got %v", got)
	}
	// Drain must leave the queue reusable.
	q.Send(RescanCmd{})
	if got := q.DrainAll(); len(got) != 1 {
		t.Fatalf("expected 1 after refill, got %d", len(got))
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after drain")
	}
}

func TestQueue_AccumulatesWithoutWorker(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 1000; i++ {
		q.Send(MoveCmd{ID: 1, Position: uint16(i)})
	}
	got := q.DrainAll()
	if len(got) != 1000 {
		t.Fatalf("expected 1000 queued, got %d", len(got))
	}
	for i, cmd := range got {
		if cmd.(MoveCmd).Position != uint16(i) {
			t.Fatalf("entry %d out of order: %#v", i, cmd)
		}
	}
}

func TestMoveCmd_Validate(t *testing.T) {
	cases := []struct {
		name string
		cmd  MoveCmd
		ok   bool
	}{
		{"max position", MoveCmd{ID: 1, Position: 4095}, true},
		{"position overflow", MoveCmd{ID: 1, Position: 4096}, false},
		{"max speed", MoveCmd{ID: 1, Speed: 3400}, true},
		{"speed overflow", MoveCmd{ID: 1, Speed: 3401}, false},
		{"zero speed means servo max", MoveCmd{ID: 1, Position: 100}, true},
	}
	for _, tc := range cases {
		err := tc.cmd.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestChangeIDCmd_Validate(t *testing.T) {
	cases := []struct {
		name string
		cmd  ChangeIDCmd
		ok   bool
	}{
		{"valid", ChangeIDCmd{CurrentID: 1, NewID: 7}, true},
		{"same id", ChangeIDCmd{CurrentID: 3, NewID: 3}, false},
		{"broadcast range", ChangeIDCmd{CurrentID: 1, NewID: 254}, false},
		{"top of range", ChangeIDCmd{CurrentID: 1, NewID: 253}, true},
	}
	for _, tc := range cases {
		err := tc.cmd.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
