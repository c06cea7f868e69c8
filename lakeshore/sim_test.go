package lakeshore

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cryolab/golakeshore/util"
)

// sim218 is an in-memory stand-in for a 218, close enough for the
// driver's command traffic.  It records every command it receives.
type sim218 struct {
	enabled    [8]bool
	sensorType map[string]int
	temps      [8]float64
	readings   [8]float64
	analog     [2]string // CSV: bipolar,mode,channel,source,high,low,manual
	aout       [2]float64
	filters    [8]string // CSV: enabled,points,window

	commands []string
	reply    bytes.Buffer
}

func newSim218() *sim218 {
	s := &sim218{
		sensorType: map[string]int{"A": 0, "B": 0},
		temps:      [8]float64{295.1, 295.2, 77.3, 77.4, 4.21, 4.22, 1.51, 1.52},
		readings:   [8]float64{1.01, 1.02, 1.03, 1.04, 1.05, 1.06, 1.07, 1.08},
	}
	for i := range s.enabled {
		s.enabled[i] = true
	}
	for i := range s.analog {
		s.analog[i] = "0,1,3,1,100.000,0.000,25.000"
	}
	for i := range s.filters {
		s.filters[i] = "0,8,1"
	}
	return s
}

func (s *sim218) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\r\n")
	s.commands = append(s.commands, msg)
	s.dispatch(msg)
	return len(p), nil
}

func (s *sim218) Read(p []byte) (int, error) {
	if s.reply.Len() == 0 {
		return 0, io.EOF
	}
	return s.reply.Read(p)
}

func (s *sim218) Close() error { return nil }

func (s *sim218) respond(str string) {
	s.reply.WriteString(str + "\r\n")
}

func (s *sim218) dispatch(msg string) {
	fields := strings.Fields(msg)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}
	switch cmd {
	case "*IDN?":
		s.respond("LSCI,MODEL218S,33218S,12/22/05")
	case "*OPC?":
		s.respond("1")
	case "INPUT?":
		ch, _ := strconv.Atoi(arg)
		s.respond(strconv.Itoa(boolToInt(s.enabled[ch-1])))
	case "INPUT":
		ch, _ := strconv.Atoi(fields[1])
		s.enabled[ch-1] = fields[2] == "1"
	case "INTYPE?":
		s.respond(strconv.Itoa(s.sensorType[arg]))
	case "INTYPE":
		v, _ := strconv.Atoi(fields[2])
		s.sensorType[fields[1]] = v
	case "KRDG?":
		s.respondReadings(arg, s.temps)
	case "SRDG?":
		s.respondReadings(arg, s.readings)
	case "ANALOG?":
		out, _ := strconv.Atoi(arg)
		s.respond(s.analog[out-1])
	case "ANALOG":
		args := util.SplitCSV(arg)
		out, _ := strconv.Atoi(args[0])
		s.analog[out-1] = util.JoinCSV(args[1:])
		switch args[2] { // mode field
		case "2":
			s.aout[out-1], _ = strconv.ParseFloat(args[7], 64)
		case "0":
			s.aout[out-1] = 0
		}
	case "AOUT?":
		out, _ := strconv.Atoi(arg)
		s.respond(fmt.Sprintf("%.3f", s.aout[out-1]))
	case "FILTER?":
		ch, _ := strconv.Atoi(arg)
		s.respond(s.filters[ch-1])
	case "FILTER":
		args := util.SplitCSV(arg)
		ch, _ := strconv.Atoi(args[0])
		s.filters[ch-1] = util.JoinCSV(args[1:])
	}
}

func (s *sim218) respondReadings(arg string, vals [8]float64) {
	if arg == "0" {
		strs := make([]string, len(vals))
		for i, v := range vals {
			strs[i] = fmt.Sprintf("+%.3f", v)
		}
		s.respond(util.JoinCSV(strs))
		return
	}
	ch, _ := strconv.Atoi(arg)
	s.respond(fmt.Sprintf("+%.3f", vals[ch-1]))
}

// sim370 is the 370 counterpart
type sim370 struct {
	scanChannel int
	heaterRange int
	heaterPct   float64
	heaterRes   float64
	analogValue map[int]float64

	commands []string
	reply    bytes.Buffer
}

func newSim370() *sim370 {
	return &sim370{scanChannel: 1, heaterRes: 100, analogValue: map[int]float64{}}
}

func (s *sim370) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\r\n")
	s.commands = append(s.commands, msg)
	s.dispatch(msg)
	return len(p), nil
}

func (s *sim370) Read(p []byte) (int, error) {
	if s.reply.Len() == 0 {
		return 0, io.EOF
	}
	return s.reply.Read(p)
}

func (s *sim370) Close() error { return nil }

func (s *sim370) respond(str string) {
	s.reply.WriteString(str + "\n")
}

func (s *sim370) dispatch(msg string) {
	fields := strings.Fields(msg)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}
	switch cmd {
	case "*IDN?":
		s.respond("LSCI,MODEL370,370447,04/13/07")
	case "RDGR?":
		ch, _ := strconv.Atoi(arg)
		s.respond(fmt.Sprintf("+%.5E", 100.0+float64(ch)))
	case "RDGPWR?":
		ch, _ := strconv.Atoi(arg)
		s.respond(fmt.Sprintf("+%.5E", 1e-9*float64(ch)))
	case "SCAN?":
		// the device zero pads the channel field
		s.respond(fmt.Sprintf("%02d,0", s.scanChannel))
	case "SCAN":
		args := util.SplitCSV(arg)
		s.scanChannel, _ = strconv.Atoi(args[0])
	case "CMODE", "RDGRNG":
		// recorded only
	case "CSET":
		args := util.SplitCSV(arg)
		s.heaterRange, _ = strconv.Atoi(args[5])
		s.heaterRes, _ = strconv.ParseFloat(args[6], 64)
	case "CSET?":
		s.respond(fmt.Sprintf("1,0,1,25,1,%d,+%.3f", s.heaterRange, s.heaterRes))
	case "HTRRNG?":
		s.respond(fmt.Sprintf("%02d", s.heaterRange))
	case "HTRRNG":
		s.heaterRange, _ = strconv.Atoi(arg)
	case "MOUT?":
		s.respond(fmt.Sprintf("+%.3f", s.heaterPct))
	case "MOUT":
		s.heaterPct, _ = strconv.ParseFloat(arg, 64)
	case "ANALOG":
		args := util.SplitCSV(arg)
		ch, _ := strconv.Atoi(args[0])
		if args[2] == "2" {
			s.analogValue[ch], _ = strconv.ParseFloat(args[7], 64)
		} else {
			s.analogValue[ch] = 0
		}
	case "AOUT?":
		ch, _ := strconv.Atoi(arg)
		s.respond(fmt.Sprintf("%.3f", s.analogValue[ch]))
	}
}
