/*Package lakeshore provides drivers for Lakeshore temperature controllers.

Two models are supported: the 218 eight-channel temperature monitor and
the 370 AC resistance bridge.  Both speak an SCPI-like ASCII protocol
over RS-232; command mnemonics and field ordering follow the Lakeshore
programming manuals and must not be altered.

Every getter is a live query; the drivers keep no cached device state.
Driver instances own their serial connection exclusively and perform
synchronous, single-shot request/reply with no retries.  Concurrent use
of one driver from multiple goroutines is the caller's responsibility.
*/
package lakeshore

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// per the Lakeshore manuals, the serial interfaces use:
//
// baud 300, 1200, or 9600
// 1 start, 7 data, 1 parity, 1 stop bit
// terminator CRLF
// < 20 commands per second

const (
	// commandsPerSecond is the manual's ceiling on serial command rate
	commandsPerSecond = 20

	// idTimeout bounds the *IDN? probe during connection setup
	idTimeout = 2 * time.Second

	// poolIdleTimeout is how long an unused serial connection is kept open
	poolIdleTimeout = time.Minute
)

var (
	// ErrInvalidParameter is generated when an argument fails validation
	// before any command is sent to the device
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrOpen is generated when the connection probe during construction
	// fails; it wraps the transport cause
	ErrOpen = errors.New("could not open connection")
)

// SensorType is an input sensor type code for the 218, per the INTYPE
// command in the programming manual
type SensorType int

// sensor types accepted by the 218 INTYPE command
const (
	SensorDiode2p5V SensorType = iota
	SensorDiode7p5V
	SensorPlatinum250
	SensorPlatinum500
	SensorPlatinum5k
	SensorCernox
)

func (s SensorType) String() string {
	switch s {
	case SensorDiode2p5V:
		return "diode_2.5"
	case SensorDiode7p5V:
		return "diode_7.5"
	case SensorPlatinum250:
		return "plat_250"
	case SensorPlatinum500:
		return "plat_500"
	case SensorPlatinum5k:
		return "plat_5k"
	case SensorCernox:
		return "cernox"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// ParseSensorType converts a name as returned by SensorType.String
// back into the code
func ParseSensorType(s string) (SensorType, error) {
	for st := SensorDiode2p5V; st <= SensorCernox; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: sensor type %q", ErrInvalidParameter, s)
}

// OutputMode is an analog output mode for the 218 ANALOG command
type OutputMode int

// analog output modes
const (
	OutputOff OutputMode = iota
	OutputInput
	OutputManual
)

func (m OutputMode) String() string {
	switch m {
	case OutputOff:
		return "off"
	case OutputInput:
		return "input"
	case OutputManual:
		return "manual"
	}
	return "unknown(" + strconv.Itoa(int(m)) + ")"
}

// Source is the data source driving an analog output on the 218
type Source int

// analog output sources; the device codes start at 1
const (
	SourceKelvin Source = iota + 1
	SourceCelsius
	SourceSensor
	SourceLinear
)

func (s Source) String() string {
	switch s {
	case SourceKelvin:
		return "kelvin"
	case SourceCelsius:
		return "celsius"
	case SourceSensor:
		return "sensor"
	case SourceLinear:
		return "linear"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

func checkChannel218(channel int) error {
	if channel < 1 || channel > 8 {
		return fmt.Errorf("%w: channel %d outside 1~8", ErrInvalidParameter, channel)
	}
	return nil
}

func checkOutput218(output int) error {
	if output < 1 || output > 2 {
		return fmt.Errorf("%w: output %d must be 1 or 2", ErrInvalidParameter, output)
	}
	return nil
}

func checkGroup218(group string) error {
	if group != "A" && group != "B" {
		return fmt.Errorf("%w: group %q must be A (channels 1-4) or B (channels 5-8)", ErrInvalidParameter, group)
	}
	return nil
}

func checkSensorType(st SensorType) error {
	if st < SensorDiode2p5V || st > SensorCernox {
		return fmt.Errorf("%w: sensor type code %d outside 0~5", ErrInvalidParameter, int(st))
	}
	return nil
}

func checkChannel370(channel int) error {
	if channel < 0 {
		return fmt.Errorf("%w: channel %d must be non-negative", ErrInvalidParameter, channel)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
