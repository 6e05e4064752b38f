// Package st3215 drives Feetech ST3215-class servos over a serial link.
// Frames are built by hand: FF FF id len inst params... checksum, with
// little-endian register words and checksum = ^sum(id..params).
package st3215

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaud is the factory baud rate of the ST3215.
	DefaultBaud = 1_000_000
	// DefaultTimeout bounds one request/response round trip. A servo that
	// stays silent for this long is reported absent, not dead-link.
	DefaultTimeout = 50 * time.Millisecond
)

// Port is the slice of a serial port the bus needs. go.bug.st/serial.Port
// satisfies it; tests use an in-memory fake.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Bus is one serial link shared by every servo on it. All operations are
// blocking request/response exchanges serialized by an internal mutex.
type Bus struct {
	mu      sync.Mutex
	port    Port
	name    string
	timeout time.Duration
}

// FindPort returns the first serial port whose name contains hint
// (default "ACM", the control board's USB CDC identity).
func FindPort(hint string) (string, error) {
	if hint == "" {
		hint = "ACM"
	}
	ports, err := serial.GetPortsList()
	if err != nil {
		return "", &LinkError{Op: "enumerate ports", Err: err}
	}
	for _, p := range ports {
		if strings.Contains(p, hint) {
			return p, nil
		}
	}
	return "", fmt.Errorf("st3215: no serial port matching %q", hint)
}

// Open opens the named serial port. An empty name autodetects via FindPort.
func Open(name string, baud int, timeout time.Duration) (*Bus, error) {
	if name == "" {
		var err error
		name, err = FindPort("")
		if err != nil {
			return nil, err
		}
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, &LinkError{Op: "open " + name, Err: err}
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, &LinkError{Op: "set read timeout", Err: err}
	}
	return &Bus{port: port, name: name, timeout: timeout}, nil
}

// Name returns the underlying port name.
func (b *Bus) Name() string { return b.name }

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port.Close()
}

func checksum(body []byte) byte {
	var sum byte
	for _, c := range body {
		sum += c
	}
	return ^sum
}

func buildPacket(id, inst byte, params []byte) []byte {
	pkt := make([]byte, 0, 6+len(params))
	pkt = append(pkt, 0xFF, 0xFF, id, byte(2+len(params)), inst)
	pkt = append(pkt, params...)
	pkt = append(pkt, checksum(pkt[2:]))
	return pkt
}

// transact writes one instruction packet and reads back the status packet.
// dataLen is the number of parameter bytes expected after the status byte.
func (b *Bus) transact(id, inst byte, params []byte, dataLen int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.port.ResetInputBuffer(); err != nil {
		return nil, &LinkError{Op: "flush", Err: err}
	}
	pkt := buildPacket(id, inst, params)
	if n, err := b.port.Write(pkt); err != nil {
		return nil, &LinkError{Op: "write", Err: err}
	} else if n != len(pkt) {
		return nil, &LinkError{Op: "write", Err: fmt.Errorf("short write: %d of %d bytes", n, len(pkt))}
	}

	want := 6 + dataLen
	buf := make([]byte, 0, 2*want)
	deadline := time.Now().Add(b.timeout)
	chunk := make([]byte, 64)
	for {
		n, err := b.port.Read(chunk)
		if err != nil {
			return nil, &LinkError{Op: "read", Err: err}
		}
		buf = append(buf, chunk[:n]...)
		if resp := scanPacket(buf, want); resp != nil {
			if !verify(resp) {
				return nil, ErrBadChecksum
			}
			if resp[2] != id {
				return nil, fmt.Errorf("reply from id %d, expected %d: %w", resp[2], id, ErrWrongID)
			}
			return resp[5 : 5+dataLen], nil
		}
		// A zero-byte read means the port timeout elapsed with silence.
		if n == 0 || time.Now().After(deadline) {
			return nil, ErrNoResponse
		}
	}
}

// scanPacket finds a complete status packet of the expected size in buf.
func scanPacket(buf []byte, want int) []byte {
	for i := 0; i+want <= len(buf); i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xFF && int(buf[i+3]) == want-4 {
			return buf[i : i+want]
		}
	}
	return nil
}

func verify(pkt []byte) bool {
	return checksum(pkt[2:len(pkt)-1]) == pkt[len(pkt)-1]
}

func (b *Bus) readRegister(id, addr byte, n int) ([]byte, error) {
	return b.transact(id, instRead, []byte{addr, byte(n)}, n)
}

func (b *Bus) writeRegister(id, addr byte, data []byte) error {
	_, err := b.transact(id, instWrite, append([]byte{addr}, data...), 0)
	return err
}

// Ping checks whether a servo answers at the given ID.
func (b *Bus) Ping(id uint8) error {
	_, err := b.transact(id, instPing, nil, 0)
	return err
}

// Scan probes every ID in [lo, hi] and returns the ones that answer.
// An absent ID is skipped; a link failure aborts the scan.
func (b *Bus) Scan(lo, hi uint8) ([]uint8, error) {
	var found []uint8
	for id := lo; id <= hi; id++ {
		err := b.Ping(id)
		if err == nil {
			found = append(found, id)
		} else if IsLinkFailure(err) {
			return nil, err
		}
		if id == hi { // uint8 wrap guard
			break
		}
	}
	return found, nil
}

// ReadPosition returns the present position, 0..4095.
func (b *Bus) ReadPosition(id uint8) (uint16, error) {
	data, err := b.readRegister(id, RegPresentPosition, 2)
	if err != nil {
		return 0, err
	}
	return word(data[0], data[1]) & 0x0FFF, nil
}

// ReadTemperature returns the internal temperature in degrees Celsius.
func (b *Bus) ReadTemperature(id uint8) (uint8, error) {
	data, err := b.readRegister(id, RegPresentTemperature, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// ReadVoltage returns the supply voltage in volts (register is decivolts).
func (b *Bus) ReadVoltage(id uint8) (float64, error) {
	data, err := b.readRegister(id, RegPresentVoltage, 1)
	if err != nil {
		return 0, err
	}
	return float64(data[0]) / 10.0, nil
}

// ReadCurrent returns the present current in amperes (6.5 mA per count).
func (b *Bus) ReadCurrent(id uint8) (float64, error) {
	data, err := b.readRegister(id, RegPresentCurrent, 2)
	if err != nil {
		return 0, err
	}
	return float64(word(data[0], data[1])) * 6.5 / 1000.0, nil
}

// ReadLoad returns the present load as a percentage of stall torque,
// negative when the servo is being back-driven.
func (b *Bus) ReadLoad(id uint8) (float64, error) {
	data, err := b.readRegister(id, RegPresentLoad, 2)
	if err != nil {
		return 0, err
	}
	return float64(signMag10(word(data[0], data[1]))) / 10.0, nil
}

// ReadSpeed returns the present speed in steps per second, signed.
func (b *Bus) ReadSpeed(id uint8) (int16, error) {
	data, err := b.readRegister(id, RegPresentSpeed, 2)
	if err != nil {
		return 0, err
	}
	return signMag15(word(data[0], data[1])), nil
}

// ReadMoving reports whether the servo is currently executing a move.
func (b *Bus) ReadMoving(id uint8) (bool, error) {
	data, err := b.readRegister(id, RegMoving, 1)
	if err != nil {
		return false, err
	}
	return data[0] != 0, nil
}

// Move commands a position move. Acceleration, goal position, time (unused)
// and goal speed live in one contiguous block, written in a single frame so
// the servo latches them together. Speed 0 means the servo's maximum.
func (b *Bus) Move(id uint8, position, speed uint16, acceleration uint8) error {
	position &= 0x0FFF
	block := []byte{
		acceleration,
		byte(position), byte(position >> 8),
		0, 0,
		byte(speed), byte(speed >> 8),
	}
	return b.writeRegister(id, RegAcceleration, block)
}

// SetTorque engages or releases holding torque.
func (b *Bus) SetTorque(id uint8, on bool) error {
	v := byte(0)
	if on {
		v = 1
	}
	return b.writeRegister(id, RegTorqueEnable, []byte{v})
}

// ChangeID reassigns a servo's bus ID. The ID register lives in EEPROM
// behind the lock register; torque is dropped first as the servo refuses
// EEPROM writes while holding.
func (b *Bus) ChangeID(oldID, newID uint8) error {
	if newID > MaxID {
		return fmt.Errorf("st3215: invalid target id %d (must be 0-%d)", newID, MaxID)
	}
	if err := b.SetTorque(oldID, false); err != nil {
		return fmt.Errorf("disable torque before id change: %w", err)
	}
	if err := b.writeRegister(oldID, RegLock, []byte{0}); err != nil {
		return fmt.Errorf("unlock eeprom: %w", err)
	}
	if err := b.writeRegister(oldID, RegID, []byte{newID}); err != nil {
		return fmt.Errorf("write id: %w", err)
	}
	if err := b.writeRegister(newID, RegLock, []byte{1}); err != nil {
		return fmt.Errorf("relock eeprom: %w", err)
	}
	return nil
}
