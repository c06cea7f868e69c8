package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"go.bug.st/serial"

	yml "gopkg.in/yaml.v2"

	"github.com/cryolab/golakeshore/lakeshore"
	"github.com/cryolab/golakeshore/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "lakectl.yml"
	k              = koanf.New(".")
)

// DeviceSetup holds the parameters for one controller
type DeviceSetup struct {
	// Name identifies the device on the command line
	Name string `yaml:"name" koanf:"name"`

	// Model is "218" or "370"
	Model string `yaml:"model" koanf:"model"`

	// Addr is the serial port, e.g. /dev/ttyS4 or COM3
	Addr string `yaml:"addr" koanf:"addr"`

	// Baud overrides the 218's baud rate; zero keeps the device default
	Baud int `yaml:"baud" koanf:"baud"`
}

// Config is the lakectl configuration, populated from lakectl.yml
type Config struct {
	// PollSeconds is the monitor cadence
	PollSeconds float64 `yaml:"pollSeconds" koanf:"pollSeconds"`

	// Devices are the configured controllers
	Devices []DeviceSetup `yaml:"devices" koanf:"devices"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		PollSeconds: 5,
		Devices:     []DeviceSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `lakectl talks to Lakeshore 218 and 370 temperature controllers on serial ports.

Usage:
	lakectl <command> [device]

Commands:
	help
	version
	conf
	mkconf
	ports
	id      <device>
	read    <device>
	monitor <device>`
	fmt.Println(str)
}

func help() {
	str := `lakectl is configured via lakectl.yml.  Each device gets a name, a model
("218" or "370") and a serial port address, for example:

pollSeconds: 5
devices:
  - name: cryostat
    model: "218"
    addr: /dev/ttyS4
  - name: fridge
    model: "370"
    addr: /dev/ttyUSB0

The 218 speaks 9600 baud, 7 data bits, even parity; a baud field may
select 300 or 1200 instead.  The 370's framing is fixed.

"read" prints a one-shot reading: all eight channel temperatures for a
218, the active channel's resistance for a 370.  "monitor" repeats that
every pollSeconds, CSV to stdout.  "ports" lists serial ports on this
machine.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("lakectl version %v\n", Version)
}

func ports() {
	list, err := serial.GetPortsList()
	if err != nil {
		log.Fatal(err)
	}
	if len(list) == 0 {
		fmt.Println("no serial ports found")
		return
	}
	for _, p := range list {
		fmt.Println(p)
	}
}

func findDevice(name string) DeviceSetup {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	for _, d := range c.Devices {
		if d.Name == name {
			return d
		}
	}
	log.Fatalf("no device named %q in %s", name, ConfigFileName)
	return DeviceSetup{}
}

func id(name string) {
	d := findDevice(name)
	switch d.Model {
	case "218":
		ls, err := lakeshore.NewLS218(d.Addr, d.Baud)
		if err != nil {
			log.Fatal(err)
		}
		defer ls.Close()
		idn, err := ls.Identification()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(idn)
	case "370":
		ls, err := lakeshore.NewLS370(d.Addr)
		if err != nil {
			log.Fatal(err)
		}
		defer ls.Close()
		idn, err := ls.Identification()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(idn)
	default:
		log.Fatalf("device %q has unknown model %q, must be 218 or 370", name, d.Model)
	}
}

func read218(ls *lakeshore.LS218) (string, error) {
	temps, err := ls.GetAllTemperatures()
	if err != nil {
		return "", err
	}
	strs := make([]string, len(temps))
	for i, kelvin := range temps {
		strs[i] = fmt.Sprintf("%.3f", float64(kelvin))
	}
	return util.JoinCSV(strs), nil
}

func read370(ls *lakeshore.LS370) (string, error) {
	ch, err := ls.GetCurrentChannel()
	if err != nil {
		return "", err
	}
	r, err := ls.GetResistance(ch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d,%.5e", ch, r), nil
}

// reader builds a one-shot read function for the device, plus a CSV
// header for it
func reader(d DeviceSetup) (func() (string, error), string) {
	switch d.Model {
	case "218":
		ls, err := lakeshore.NewLS218(d.Addr, d.Baud)
		if err != nil {
			log.Fatal(err)
		}
		return func() (string, error) { return read218(ls) }, "ch1_K,ch2_K,ch3_K,ch4_K,ch5_K,ch6_K,ch7_K,ch8_K"
	case "370":
		ls, err := lakeshore.NewLS370(d.Addr)
		if err != nil {
			log.Fatal(err)
		}
		return func() (string, error) { return read370(ls) }, "channel,resistance_ohm"
	default:
		log.Fatalf("device %q has unknown model %q, must be 218 or 370", d.Name, d.Model)
		return nil, ""
	}
}

func read(name string) {
	f, header := reader(findDevice(name))
	line, err := f()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(header)
	fmt.Println(line)
}

func monitor(name string) {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	f, header := reader(findDevice(name))
	period := util.SecsToDuration(c.PollSeconds)
	fmt.Println("time," + header)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for t := range ticker.C {
		line, err := f()
		if err != nil {
			log.Printf("read error: %v", err)
			continue
		}
		fmt.Printf("%s,%s\n", t.Format(time.RFC3339), line)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	devArg := func() string {
		if len(args) < 3 {
			log.Fatalf("%s requires a device name", cmd)
		}
		return args[2]
	}
	switch cmd {
	case "help":
		help()
	case "conf":
		printconf()
	case "mkconf":
		mkconf()
	case "version":
		pversion()
	case "ports":
		ports()
	case "id":
		id(devArg())
	case "read":
		read(devArg())
	case "monitor":
		monitor(devArg())
	default:
		log.Fatal("unknown command")
	}
}
