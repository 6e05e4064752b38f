package st3215

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// fakePort scripts one port read per queued entry. An empty entry models the
// port timeout elapsing in silence.
type fakePort struct {
	reads   [][]byte
	writes  [][]byte
	readErr error
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.reads) == 0 {
		return 0, nil
	}
	next := p.reads[0]
	p.reads = p.reads[1:]
	return copy(b, next), nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Close() error                        { p.closed = true; return nil }
func (p *fakePort) SetReadTimeout(t time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error              { return nil }

func newTestBus(p *fakePort) *Bus {
	return &Bus{port: p, name: "fake", timeout: 10 * time.Millisecond}
}

// statusPacket builds a well-formed status reply.
func statusPacket(id byte, params ...byte) []byte {
	pkt := []byte{0xFF, 0xFF, id, byte(2 + len(params)), 0x00}
	pkt = append(pkt, params...)
	return append(pkt, checksum(pkt[2:]))
}

func TestBuildPacket_PingVector(t *testing.T) {
	got := buildPacket(1, instPing, nil)
	want := []byte{0xFF, 0xFF, 0x01, 0x02, 0x01, 0xFB}
	if !bytes.Equal(got, want) {
		t.Fatalf("ping frame mismatch:\n got % X\nwant % X", got, want)
	}
}

func TestReadPosition(t *testing.T) {
	p := &fakePort{reads: [][]byte{statusPacket(1, 0x00, 0x08)}}
	b := newTestBus(p)

	pos, err := b.ReadPosition(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos != 2048 {
		t.Fatalf("expected position 2048, got %d", pos)
	}

	// Request frame: read 2 bytes at the present-position register.
	want := []byte{0xFF, 0xFF, 0x01, 0x04, instRead, RegPresentPosition, 0x02, 0xBE}
	if len(p.writes) != 1 || !bytes.Equal(p.writes[0], want) {
		t.Fatalf("request frame mismatch:\n got % X\nwant % X", p.writes[0], want)
	}
}

func TestTransact_SilenceIsNoResponse(t *testing.T) {
	b := newTestBus(&fakePort{})
	err := b.Ping(4)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
	if IsLinkFailure(err) {
		t.Fatalf("a silent servo must not count as a link failure")
	}
}

func TestTransact_PortErrorIsLinkFailure(t *testing.T) {
	b := newTestBus(&fakePort{readErr: errors.New("device unplugged")})
	err := b.Ping(4)
	if !IsLinkFailure(err) {
		t.Fatalf("expected a link failure, got %v", err)
	}
}

func TestTransact_BadChecksum(t *testing.T) {
	reply := statusPacket(1, 0x00, 0x08)
	reply[len(reply)-1] ^= 0xFF
	b := newTestBus(&fakePort{reads: [][]byte{reply}})

	_, err := b.ReadPosition(1)
	if !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("expected ErrBadChecksum, got %v", err)
	}
}

func TestTransact_SkipsLeadingNoise(t *testing.T) {
	reply := append([]byte{0x00, 0x00, 0xFF}, statusPacket(1, 0x00, 0x08)...)
	b := newTestBus(&fakePort{reads: [][]byte{reply}})

	pos, err := b.ReadPosition(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos != 2048 {
		t.Fatalf("expected position 2048, got %d", pos)
	}
}

func TestTransact_WrongReplyID(t *testing.T) {
	b := newTestBus(&fakePort{reads: [][]byte{statusPacket(2, 0x00, 0x08)}})
	_, err := b.ReadPosition(1)
	if !errors.Is(err, ErrWrongID) {
		t.Fatalf("expected ErrWrongID, got %v", err)
	}
	if errors.Is(err, ErrBadChecksum) {
		t.Fatalf("an id mismatch must not read as a checksum fault")
	}
	if IsLinkFailure(err) {
		t.Fatalf("an id mismatch must not count as a link failure")
	}
}

func TestMove_SingleFrame(t *testing.T) {
	p := &fakePort{reads: [][]byte{statusPacket(1)}}
	b := newTestBus(p)

	if err := b.Move(1, 1000, 500, 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Acceleration, goal position, time, goal speed in one contiguous write.
	want := []byte{
		0xFF, 0xFF, 0x01, 0x0A, instWrite, RegAcceleration,
		40, 0xE8, 0x03, 0x00, 0x00, 0xF4, 0x01, 0xC0,
	}
	if len(p.writes) != 1 || !bytes.Equal(p.writes[0], want) {
		t.Fatalf("move frame mismatch:\n got % X\nwant % X", p.writes[0], want)
	}
}

func TestScan_AbsentSkippedLinkFailureAborts(t *testing.T) {
	// IDs 1..7: only 2 and 5 answer.
	p := &fakePort{reads: [][]byte{
		{}, statusPacket(2), {}, {}, statusPacket(5), {}, {},
	}}
	b := newTestBus(p)

	found, err := b.Scan(1, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 2 || found[0] != 2 || found[1] != 5 {
		t.Fatalf("expected [2 5], got %v", found)
	}

	b2 := newTestBus(&fakePort{readErr: errors.New("port gone")})
	if _, err := b2.Scan(1, 7); !IsLinkFailure(err) {
		t.Fatalf("expected link failure to abort scan, got %v", err)
	}
}

func TestChangeID_Sequence(t *testing.T) {
	p := &fakePort{reads: [][]byte{
		statusPacket(1), // torque off
		statusPacket(1), // unlock
		statusPacket(1), // write id
		statusPacket(7), // relock at new id
	}}
	b := newTestBus(p)

	if err := b.ChangeID(1, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.writes) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(p.writes))
	}
	// addr byte sits after the instruction in each write frame.
	steps := []struct {
		id, addr, val byte
	}{
		{1, RegTorqueEnable, 0},
		{1, RegLock, 0},
		{1, RegID, 7},
		{7, RegLock, 1},
	}
	for i, s := range steps {
		w := p.writes[i]
		if w[2] != s.id || w[5] != s.addr || w[6] != s.val {
			t.Fatalf("step %d: expected id=%d addr=%d val=%d, got % X", i, s.id, s.addr, s.val, w)
		}
	}

	if err := b.ChangeID(1, 254); err == nil {
		t.Fatalf("broadcast-range target id must be rejected")
	}
}

func TestSignMagnitudeDecoding(t *testing.T) {
	if got := signMag10(0x0400 | 100); got != -100 {
		t.Fatalf("load sign bit: expected -100, got %d", got)
	}
	if got := signMag10(100); got != 100 {
		t.Fatalf("load positive: expected 100, got %d", got)
	}
	if got := signMag15(0x8000 | 250); got != -250 {
		t.Fatalf("speed sign bit: expected -250, got %d", got)
	}
	if got := word(0xE8, 0x03); got != 1000 {
		t.Fatalf("little-endian word: expected 1000, got %d", got)
	}
}

func TestReadLoad_Scaled(t *testing.T) {
	// Raw 0x0464 = sign bit + 100 counts = -10.0 percent.
	b := newTestBus(&fakePort{reads: [][]byte{statusPacket(3, 0x64, 0x04)}})
	load, err := b.ReadLoad(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if load != -10.0 {
		t.Fatalf("expected -10.0, got %v", load)
	}
}

func TestReadVoltage_Decivolts(t *testing.T) {
	b := newTestBus(&fakePort{reads: [][]byte{statusPacket(3, 121)}})
	v, err := b.ReadVoltage(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 12.1 {
		t.Fatalf("expected 12.1, got %v", v)
	}
}
