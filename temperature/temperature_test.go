package temperature_test

import (
	"math"
	"testing"

	"github.com/cryolab/golakeshore/temperature"
)

func TestWaterFreezingPoint(t *testing.T) {
	var c temperature.Celsius
	if k := temperature.C2K(c); k != 273.15 {
		t.Errorf("expected 0 C == 273.15 K, got %v", k)
	}
	if f := temperature.C2F(c); f != 32 {
		t.Errorf("expected 0 C == 32 F, got %v", f)
	}
}

func TestKelvinRoundTrip(t *testing.T) {
	k := temperature.Kelvin(4.2)
	back := temperature.C2K(temperature.K2C(k))
	if math.Abs(float64(back-k)) > 1e-12 {
		t.Errorf("K->C->K round trip drifted: %v != %v", back, k)
	}
}

func TestFahrenheitConversions(t *testing.T) {
	f := temperature.Fahrenheit(212)
	if c := temperature.F2C(f); math.Abs(float64(c-100)) > 1e-12 {
		t.Errorf("expected 212 F == 100 C, got %v", c)
	}
	if k := temperature.F2K(f); math.Abs(float64(k-373.15)) > 1e-12 {
		t.Errorf("expected 212 F == 373.15 K, got %v", k)
	}
}
