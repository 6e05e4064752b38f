package engine

// Link is the point-to-point capability the worker drives. *st3215.Bus
// satisfies it; tests substitute a fake. Every operation is a bounded
// blocking round trip against one servo ID. Errors are classified with
// st3215.IsLinkFailure: a link failure tears the connection down, anything
// else means that servo (or that read) is absent and is tolerated.
type Link interface {
	ReadPosition(id uint8) (uint16, error)
	ReadTemperature(id uint8) (uint8, error)
	ReadVoltage(id uint8) (float64, error)
	ReadCurrent(id uint8) (float64, error)
	ReadLoad(id uint8) (float64, error)
	ReadSpeed(id uint8) (int16, error)
	ReadMoving(id uint8) (bool, error)
	Move(id uint8, position, speed uint16, acceleration uint8) error
	SetTorque(id uint8, on bool) error
	ChangeID(oldID, newID uint8) error
	Close() error
}
