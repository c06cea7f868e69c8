package lakeshore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/cryolab/golakeshore/comm"
	"github.com/cryolab/golakeshore/scpi"
	"github.com/cryolab/golakeshore/util"
)

// makeSerConf370 makes a new serial.Config for the 370, which fixes
// its framing at 9600 baud, 7 data bits, odd parity, 1 stop bit.
func makeSerConf370(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        7,
		Parity:      serial.ParityOdd,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// HeaterSettings are the open loop heater settings of a 370
type HeaterSettings struct {
	// Range is the heater range code, see the HTRRNG command
	Range int

	// Percent is the manual output as a percentage of the range
	Percent float64

	// Resistance is the heater resistance in Ohms
	Resistance float64
}

// LS370 is an interface to a Lakeshore 370 AC resistance bridge.
// Channel numbers are validated by the device itself; the driver only
// rejects negative ones.
type LS370 struct {
	scpi.SCPI
}

// NewLS370 opens a connection to a 370 at the given serial address and
// probes it with an identification query.  On probe failure the
// connection is closed and the returned error wraps ErrOpen and the
// cause.
func NewLS370(addr string) (*LS370, error) {
	pool := comm.NewPool(1, poolIdleTimeout, comm.SerialConnMaker(makeSerConf370(addr)))
	return newLS370(pool)
}

func newLS370(pool *comm.Pool) (*LS370, error) {
	ls := &LS370{scpi.SCPI{
		Pool:    pool,
		Limiter: rate.NewLimiter(commandsPerSecond, 1),
	}}
	if _, err := ls.IdentificationTimeout(idTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: lakeshore 370: %w", ErrOpen, err)
	}
	return ls, nil
}

// Close releases the serial connection
func (ls *LS370) Close() error {
	return ls.Pool.Close()
}

// GetResistance returns the resistance reading of a given channel in Ohms
func (ls *LS370) GetResistance(channel int) (float64, error) {
	if err := checkChannel370(channel); err != nil {
		return 0, err
	}
	return ls.ReadFloat(fmt.Sprintf("RDGR? %2d", channel))
}

// GetSensorPower returns the power dissipated in a given channel's
// sensor in Watts
func (ls *LS370) GetSensorPower(channel int) (float64, error) {
	if err := checkChannel370(channel); err != nil {
		return 0, err
	}
	return ls.ReadFloat(fmt.Sprintf("RDGPWR? %2d", channel))
}

// SelectChannel selects the measurement channel with autoscan disabled
func (ls *LS370) SelectChannel(channel int) error {
	if err := checkChannel370(channel); err != nil {
		return err
	}
	return ls.Write(fmt.Sprintf("SCAN %2d,0", channel))
}

// GetCurrentChannel returns the currently selected measurement channel
func (ls *LS370) GetCurrentChannel() (int, error) {
	resp, err := ls.ReadString("SCAN?")
	if err != nil {
		return 0, err
	}
	fields := util.SplitCSV(resp)
	return strconv.Atoi(fields[0])
}

// ConfigureChannel sets up a measurement channel; channel 0 means the
// current channel.  mode is the excitation mode, "I" (current) or "V"
// (voltage); excRange and resRange are the excitation and resistance
// range codes from the programming manual.  An unsupported mode fails
// before any command is sent.
func (ls *LS370) ConfigureChannel(channel int, mode string, excRange, resRange int, autorange bool) error {
	if mode != "I" && mode != "V" {
		return fmt.Errorf("%w: excitation mode %q must be I or V", ErrInvalidParameter, mode)
	}
	if err := checkChannel370(channel); err != nil {
		return err
	}
	m := 0
	if mode == "I" {
		m = 1
	}
	return ls.Write(fmt.Sprintf("RDGRNG %2d,%d,%2d,%2d,%d,0", channel, m, excRange, resRange, boolToInt(autorange)))
}

// SetupOpenLoopHeater puts the heater in open loop mode at a fixed
// output.  heaterRange is the range code, percent the output within
// the range, resistance the heater resistance in Ohms.  The command
// order is fixed: CSET, HTRRNG and MOUT depend on the control mode
// selected by CMODE.
func (ls *LS370) SetupOpenLoopHeater(heaterRange int, percent, resistance float64) error {
	if err := ls.Write("CMODE 3"); err != nil {
		return err
	}
	if err := ls.Write(fmt.Sprintf("CSET 1,0,1,25,1,%d,%f", heaterRange, resistance)); err != nil {
		return err
	}
	if err := ls.Write(fmt.Sprintf("HTRRNG %d", heaterRange)); err != nil {
		return err
	}
	return ls.Write(fmt.Sprintf("MOUT %f", percent))
}

// GetOpenLoopHeaterSettings reads back the open loop heater settings.
// The resistance comes from the seventh field of the CSET? reply; the
// range is taken from HTRRNG?, not from the CSET? reply.
func (ls *LS370) GetOpenLoopHeaterSettings() (HeaterSettings, error) {
	var set HeaterSettings
	resp, err := ls.ReadString("CSET?")
	if err != nil {
		return set, err
	}
	fields := util.SplitCSV(resp)
	if len(fields) < 7 {
		return set, fmt.Errorf("malformed CSET reply %q: %d fields, expected 7", resp, len(fields))
	}
	set.Percent, err = ls.ReadFloat("MOUT?")
	if err != nil {
		return set, err
	}
	set.Range, err = ls.ReadInt("HTRRNG?")
	if err != nil {
		return set, err
	}
	set.Resistance, err = strconv.ParseFloat(fields[6], 64)
	return set, err
}

// SetAnalogOutput sets the analog output value at a given channel and
// returns the value read back.  Zero switches the output off rather
// than writing a zero manual value.
func (ls *LS370) SetAnalogOutput(channel int, value float64) (float64, error) {
	if err := checkChannel370(channel); err != nil {
		return 0, err
	}
	var err error
	if value == 0 {
		err = ls.Write(fmt.Sprintf("ANALOG %d,0,0,1,1,500.,0,0.", channel))
	} else {
		err = ls.Write(fmt.Sprintf("ANALOG %d,0,2,1,1,500.,0,%f", channel, value))
	}
	if err != nil {
		return 0, err
	}
	return ls.GetAnalogOutput(channel)
}

// GetAnalogOutput returns the analog output value at a given channel
func (ls *LS370) GetAnalogOutput(channel int) (float64, error) {
	if err := checkChannel370(channel); err != nil {
		return 0, err
	}
	return ls.ReadFloat(fmt.Sprintf("AOUT? %d", channel))
}
