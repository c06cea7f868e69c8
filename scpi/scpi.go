// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cryolab/golakeshore/comm"
	"github.com/cryolab/golakeshore/util"
)

const (
	// DefaultTimeout is the timeout applied to each transaction when
	// the Timeout field is zero
	DefaultTimeout = 5 * time.Second

	frameSize = 1500
)

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// TxTerm terminates outgoing messages; defaults to LF
	TxTerm []byte

	// RxTerm ends incoming messages; defaults to LF
	RxTerm byte

	// Timeout bounds each transaction; zero means DefaultTimeout
	Timeout time.Duration

	// Limiter, if non-nil, gates the command rate.  Lakeshore serial
	// interfaces accept fewer than 20 commands per second.
	Limiter *rate.Limiter

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool
}

func (s *SCPI) terms() ([]byte, byte) {
	tx := s.TxTerm
	if len(tx) == 0 {
		tx = []byte{'\n'}
	}
	rx := s.RxTerm
	if rx == 0 {
		rx = '\n'
	}
	return tx, rx
}

func (s *SCPI) timeout() time.Duration {
	if s.Timeout == 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// pace blocks until the limiter allows another command.  Wait can
// fail even without a context deadline, e.g. if the limit and burst
// are misconfigured, so the error propagates.
func (s *SCPI) pace() error {
	if s.Limiter != nil {
		return s.Limiter.Wait(context.Background())
	}
	return nil
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK.
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) (err error) {
	if err := s.pace(); err != nil {
		return err
	}
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, s.timeout())
	if err != nil {
		return err
	}
	tx, rx := s.terms()
	rw := comm.NewTerminator(wrap, rx, tx)
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	_, err = io.WriteString(rw, str)
	if err != nil {
		return err
	}
	if s.Handshaking {
		buf := make([]byte, frameSize)
		n, err := rw.Read(buf)
		if err != nil {
			return err
		}
		str := string(buf[:n])
		if !strings.HasPrefix(str, "+0") {
			return fmt.Errorf("device error: %s", str)
		}
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	return s.writeRead(s.timeout(), cmds...)
}

func (s *SCPI) writeRead(timeout time.Duration, cmds ...string) (resp []byte, err error) {
	if err := s.pace(); err != nil {
		return nil, err
	}
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, timeout)
	if err != nil {
		return nil, err
	}
	tx, rx := s.terms()
	rw := comm.NewTerminator(wrap, rx, tx)
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	_, err = io.WriteString(rw, str)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, frameSize)
	n, err := rw.Read(buf)
	if err != nil {
		return nil, err
	}
	resp = buf[:n]
	if s.Handshaking {
		pieces := bytes.Split(resp, []byte{';'})
		errS := string(pieces[len(pieces)-1])
		if !strings.HasPrefix(errS, "+0") {
			return resp, fmt.Errorf("device error: %s", errS)
		}
		return bytes.Join(pieces[:len(pieces)-1], []byte{}), nil
	}
	return resp, nil
}

// ReadString sends a command to the device, then reads the response
// and returns it as a decoded ASCII or UTF-8 string with the
// terminators stripped
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.writeRead(s.timeout(), cmds...)
	return stripTerm(resp), err
}

func stripTerm(resp []byte) string {
	for len(resp) > 0 {
		last := resp[len(resp)-1]
		if last == '\n' || last == '\r' {
			resp = resp[:len(resp)-1]
			continue
		}
		break
	}
	return string(resp)
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(strings.TrimSpace(resp))
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// ReadFloats sends a command to the device, then reads the
// comma-separated response and parses each field as a float
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return nil, err
	}
	fields := util.SplitCSV(resp)
	out := make([]float64, len(fields))
	for i, f := range fields {
		out[i], err = strconv.ParseFloat(f, 64)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Identification returns the identifying information from the device,
// e.g. LSCI,MODEL218S,<serial>,<firmware date>
func (s *SCPI) Identification() (string, error) {
	return s.ReadString("*IDN?")
}

// IdentificationTimeout is Identification with an explicit transaction
// timeout, used to probe the device during connection setup
func (s *SCPI) IdentificationTimeout(d time.Duration) (string, error) {
	resp, err := s.writeRead(d, "*IDN?")
	return stripTerm(resp), err
}

// OperationComplete blocks until the device reports that all prior
// commands have been executed (the *OPC? query)
func (s *SCPI) OperationComplete() (bool, error) {
	return s.ReadBool("*OPC?")
}

// Raw sends a command to the device and returns a response if it was a
// query, else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}
