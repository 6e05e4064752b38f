package st3215

// Instructions
const (
	instPing  = 0x01
	instRead  = 0x02
	instWrite = 0x03
)

// Register map (ST3215 / STS-series memory table).
const (
	RegModelNumber        = 3
	RegID                 = 5
	RegBaudRate           = 6
	RegTorqueEnable       = 40
	RegAcceleration       = 41
	RegGoalPosition       = 42
	RegGoalTime           = 44
	RegGoalSpeed          = 46
	RegLock               = 55
	RegPresentPosition    = 56
	RegPresentSpeed       = 58
	RegPresentLoad        = 60
	RegPresentVoltage     = 62
	RegPresentTemperature = 63
	RegMoving             = 66
	RegPresentCurrent     = 69
)

const (
	// BroadcastID addresses every servo on the link at once.
	BroadcastID = 0xFE
	// MaxID is the highest assignable servo ID.
	MaxID = 0xFD
)

// word assembles a little-endian 16-bit register value.
func word(low, high byte) uint16 {
	return uint16(low) | uint16(high)<<8
}

// signMag10 decodes the 10-bit sign-magnitude encoding used by the
// load register (bit 10 is the sign).
func signMag10(raw uint16) int16 {
	v := int16(raw & 0x3FF)
	if raw&0x400 != 0 {
		return -v
	}
	return v
}

// signMag15 decodes the 15-bit sign-magnitude encoding used by the
// speed register (bit 15 is the sign).
func signMag15(raw uint16) int16 {
	v := int16(raw & 0x7FFF)
	if raw&0x8000 != 0 {
		return -v
	}
	return v
}
