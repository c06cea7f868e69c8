package lakeshore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/cryolab/golakeshore/comm"
	"github.com/cryolab/golakeshore/scpi"
	"github.com/cryolab/golakeshore/temperature"
	"github.com/cryolab/golakeshore/util"
)

// the 218 fixes its framing at 7 data bits, even parity, 1 stop bit.
// command messages look like <command><space><parameter data><terminators>
// query messages look like <query mnemonic><?><space><parameter data><terminators>

// makeSerConf218 makes a new serial.Config with correct parity, baud, etc, set
// for the 218.  baud may be 300, 1200 or 9600; zero selects 9600.
func makeSerConf218(addr string, baud int) *serial.Config {
	if baud == 0 {
		baud = 9600
	}
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        7,
		Parity:      serial.ParityEven,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// AnalogSettings are the analog output settings of a 218, per the
// ANALOG command in the programming manual
type AnalogSettings struct {
	// Bipolar enables negative output
	Bipolar bool

	// Mode is off, input or manual
	Mode OutputMode

	// Channel is the input channel driving the output in input mode
	Channel int

	// Source is the data source (kelvin, celsius, sensor, linear)
	Source Source

	// HighValue is the data value at 100% output
	HighValue float64

	// LowValue is the data value at 0% output
	LowValue float64

	// ManualValue is the output percentage in manual mode
	ManualValue float64
}

// AnalogPatch is a partial update to AnalogSettings; nil fields keep
// the device's current value
type AnalogPatch struct {
	Bipolar     *bool
	Mode        *OutputMode
	Channel     *int
	Source      *Source
	HighValue   *float64
	LowValue    *float64
	ManualValue *float64
}

// FilterSettings are the input filter settings of a 218 channel, per
// the FILTER command in the programming manual
type FilterSettings struct {
	// Enabled turns the filter on
	Enabled bool

	// Points is the number of data points used for averaging, 2~64
	Points int

	// Window is the filter window as a percent of full scale, 1~10
	Window int
}

// FilterPatch is a partial update to FilterSettings; nil fields keep
// the device's current value
type FilterPatch struct {
	Enabled *bool
	Points  *int
	Window  *int
}

// LS218 is an interface to a Lakeshore 218 temperature monitor.
// The eight input channels are split into two groups, "A" for
// channels 1-4 and "B" for channels 5-8.
type LS218 struct {
	scpi.SCPI
}

// NewLS218 opens a connection to a 218 at the given serial address and
// probes it with an identification query.  baud zero selects the
// device default of 9600.  On probe failure the connection is closed
// and the returned error wraps ErrOpen and the cause.
func NewLS218(addr string, baud int) (*LS218, error) {
	pool := comm.NewPool(1, poolIdleTimeout, comm.SerialConnMaker(makeSerConf218(addr, baud)))
	return newLS218(pool)
}

func newLS218(pool *comm.Pool) (*LS218, error) {
	ls := &LS218{scpi.SCPI{
		Pool:    pool,
		TxTerm:  []byte("\r\n"),
		RxTerm:  '\n',
		Limiter: rate.NewLimiter(commandsPerSecond, 1),
	}}
	if _, err := ls.IdentificationTimeout(idTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: lakeshore 218: %w", ErrOpen, err)
	}
	return ls, nil
}

// Close releases the serial connection
func (ls *LS218) Close() error {
	return ls.Pool.Close()
}

// IsChannelEnabled checks if a given channel (1~8) is enabled
func (ls *LS218) IsChannelEnabled(channel int) (bool, error) {
	if err := checkChannel218(channel); err != nil {
		return false, err
	}
	return ls.ReadBool(fmt.Sprintf("INPUT? %d", channel))
}

// SetChannelEnabled enables or disables a given channel (1~8) and
// returns the state read back from the device
func (ls *LS218) SetChannelEnabled(channel int, enabled bool) (bool, error) {
	if err := checkChannel218(channel); err != nil {
		return false, err
	}
	err := ls.Write(fmt.Sprintf("INPUT %d %d", channel, boolToInt(enabled)))
	if err != nil {
		return false, err
	}
	return ls.IsChannelEnabled(channel)
}

// GetSensorType returns the sensor type for a given group ("A" for
// channels 1-4 or "B" for channels 5-8)
func (ls *LS218) GetSensorType(group string) (SensorType, error) {
	if err := checkGroup218(group); err != nil {
		return 0, err
	}
	i, err := ls.ReadInt(fmt.Sprintf("INTYPE? %s", group))
	return SensorType(i), err
}

// SetSensorType sets the sensor type for a given group, waits for the
// device to finish processing, then returns the type read back
func (ls *LS218) SetSensorType(group string, st SensorType) (SensorType, error) {
	if err := checkGroup218(group); err != nil {
		return 0, err
	}
	if err := checkSensorType(st); err != nil {
		return 0, err
	}
	if err := ls.Write(fmt.Sprintf("INTYPE %s %d", group, int(st))); err != nil {
		return 0, err
	}
	// INTYPE reconfigures the input hardware; *OPC? blocks until done
	if _, err := ls.OperationComplete(); err != nil {
		return 0, err
	}
	return ls.GetSensorType(group)
}

// GetTemperature returns the reading of a given channel (1~8) in Kelvin
func (ls *LS218) GetTemperature(channel int) (temperature.Kelvin, error) {
	if err := checkChannel218(channel); err != nil {
		return 0, err
	}
	f, err := ls.ReadFloat(fmt.Sprintf("KRDG? %d", channel))
	return temperature.Kelvin(f), err
}

// GetAllTemperatures returns the readings of all eight channels in
// Kelvin, in channel order, from a single query
func (ls *LS218) GetAllTemperatures() ([]temperature.Kelvin, error) {
	fs, err := ls.ReadFloats("KRDG? 0")
	if err != nil {
		return nil, err
	}
	out := make([]temperature.Kelvin, len(fs))
	for i, f := range fs {
		out[i] = temperature.Kelvin(f)
	}
	return out, nil
}

// GetSensorReading returns the reading of a given channel (1~8) in
// raw sensor units
func (ls *LS218) GetSensorReading(channel int) (float64, error) {
	if err := checkChannel218(channel); err != nil {
		return 0, err
	}
	return ls.ReadFloat(fmt.Sprintf("SRDG? %d", channel))
}

// GetAllSensorReadings returns the readings of all eight channels in
// raw sensor units, in channel order, from a single query
func (ls *LS218) GetAllSensorReadings() ([]float64, error) {
	return ls.ReadFloats("SRDG? 0")
}

// GetAnalogOutputSettings returns the settings of a given analog
// output (1 or 2)
func (ls *LS218) GetAnalogOutputSettings(output int) (AnalogSettings, error) {
	var set AnalogSettings
	if err := checkOutput218(output); err != nil {
		return set, err
	}
	resp, err := ls.ReadString(fmt.Sprintf("ANALOG? %d", output))
	if err != nil {
		return set, err
	}
	return parseAnalogSettings(resp)
}

func parseAnalogSettings(resp string) (AnalogSettings, error) {
	var set AnalogSettings
	fields := util.SplitCSV(resp)
	if len(fields) != 7 {
		return set, fmt.Errorf("malformed ANALOG reply %q: %d fields, expected 7", resp, len(fields))
	}
	bip, err := strconv.Atoi(fields[0])
	if err != nil {
		return set, err
	}
	set.Bipolar = bip != 0
	mode, err := strconv.Atoi(fields[1])
	if err != nil {
		return set, err
	}
	set.Mode = OutputMode(mode)
	set.Channel, err = strconv.Atoi(fields[2])
	if err != nil {
		return set, err
	}
	src, err := strconv.Atoi(fields[3])
	if err != nil {
		return set, err
	}
	set.Source = Source(src)
	set.HighValue, err = strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return set, err
	}
	set.LowValue, err = strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return set, err
	}
	set.ManualValue, err = strconv.ParseFloat(fields[6], 64)
	return set, err
}

// ConfigureAnalogOutput updates the settings of a given analog output
// (1 or 2).  Fields left nil in the patch retain the value currently
// on the device; the full aggregate is read, overlaid and written
// back, then read again and returned.
func (ls *LS218) ConfigureAnalogOutput(output int, patch AnalogPatch) (AnalogSettings, error) {
	var set AnalogSettings
	if err := checkOutput218(output); err != nil {
		return set, err
	}
	cur, err := ls.GetAnalogOutputSettings(output)
	if err != nil {
		return set, err
	}
	if patch.Bipolar != nil {
		cur.Bipolar = *patch.Bipolar
	}
	if patch.Mode != nil {
		cur.Mode = *patch.Mode
	}
	if patch.Channel != nil {
		cur.Channel = *patch.Channel
	}
	if patch.Source != nil {
		cur.Source = *patch.Source
	}
	if patch.HighValue != nil {
		cur.HighValue = *patch.HighValue
	}
	if patch.LowValue != nil {
		cur.LowValue = *patch.LowValue
	}
	if patch.ManualValue != nil {
		cur.ManualValue = *patch.ManualValue
	}
	cmd := fmt.Sprintf("ANALOG %d,%d,%d,%d,%d,%.3f,%.3f,%.3f",
		output, boolToInt(cur.Bipolar), int(cur.Mode), cur.Channel,
		int(cur.Source), cur.HighValue, cur.LowValue, cur.ManualValue)
	if err := ls.Write(cmd); err != nil {
		return set, err
	}
	return ls.GetAnalogOutputSettings(output)
}

// SetAnalogOutputValue sets a manual analog output value, a simplified
// version of ConfigureAnalogOutput.  enabled false turns the output
// off instead.  Returns the output percentage read back.
func (ls *LS218) SetAnalogOutputValue(output int, value float64, bipolar, enabled bool) (float64, error) {
	if !enabled {
		mode := OutputOff
		if _, err := ls.ConfigureAnalogOutput(output, AnalogPatch{Mode: &mode}); err != nil {
			return 0, err
		}
	} else {
		mode := OutputManual
		patch := AnalogPatch{Bipolar: &bipolar, Mode: &mode, ManualValue: &value}
		if _, err := ls.ConfigureAnalogOutput(output, patch); err != nil {
			return 0, err
		}
	}
	return ls.GetAnalogOutput(output)
}

// GetAnalogOutput returns the value at a given output (1 or 2) in
// percents of the total range
func (ls *LS218) GetAnalogOutput(output int) (float64, error) {
	if err := checkOutput218(output); err != nil {
		return 0, err
	}
	return ls.ReadFloat(fmt.Sprintf("AOUT? %d", output))
}

// GetFilterSettings returns the input filter settings for a given
// channel (1~8)
func (ls *LS218) GetFilterSettings(channel int) (FilterSettings, error) {
	var set FilterSettings
	if err := checkChannel218(channel); err != nil {
		return set, err
	}
	resp, err := ls.ReadString(fmt.Sprintf("FILTER? %d", channel))
	if err != nil {
		return set, err
	}
	fields := util.SplitCSV(resp)
	if len(fields) != 3 {
		return set, fmt.Errorf("malformed FILTER reply %q: %d fields, expected 3", resp, len(fields))
	}
	on, err := strconv.Atoi(fields[0])
	if err != nil {
		return set, err
	}
	set.Enabled = on != 0
	set.Points, err = strconv.Atoi(fields[1])
	if err != nil {
		return set, err
	}
	set.Window, err = strconv.Atoi(fields[2])
	return set, err
}

// ConfigureFilter updates the input filter settings for a given
// channel (1~8) with the same read-overlay-write behavior as
// ConfigureAnalogOutput
func (ls *LS218) ConfigureFilter(channel int, patch FilterPatch) (FilterSettings, error) {
	var set FilterSettings
	if err := checkChannel218(channel); err != nil {
		return set, err
	}
	cur, err := ls.GetFilterSettings(channel)
	if err != nil {
		return set, err
	}
	if patch.Enabled != nil {
		cur.Enabled = *patch.Enabled
	}
	if patch.Points != nil {
		cur.Points = *patch.Points
	}
	if patch.Window != nil {
		cur.Window = *patch.Window
	}
	cmd := fmt.Sprintf("FILTER %d,%d,%d,%d", channel, boolToInt(cur.Enabled), cur.Points, cur.Window)
	if err := ls.Write(cmd); err != nil {
		return set, err
	}
	return ls.GetFilterSettings(channel)
}
