package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/cryolab/golakeshore/util"
)

func ExampleSplitCSV() {
	fmt.Println(util.SplitCSV(" 02,0, 1.250"))
	// Output: [02 0 1.250]
}

func TestJoinCSVRoundTripsSplitCSV(t *testing.T) {
	inp := "1,0,2,1,100.000,0.000,50.000"
	out := util.JoinCSV(util.SplitCSV(inp))
	if out != inp {
		t.Errorf("expected %s got %s", inp, out)
	}
}

func TestSplitCSVTrimsFields(t *testing.T) {
	fields := util.SplitCSV(" 05,0")
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields[0] != "05" || fields[1] != "0" {
		t.Errorf("expected trimmed fields, got %v", fields)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
