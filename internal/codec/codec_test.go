package codec

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gps-relay/internal/models"
)

func TestEncode(t *testing.T) {
	cases := []struct {
		fix  models.LocationFix
		want string
	}{
		{models.NewLocationFix(1, 2), "1.0,2.0"},
		{models.NewLocationFix(37.422, -122.084), "37.422,-122.084"},
		{models.NewLocationFix(-90, 180), "-90.0,180.0"},
		{models.NewLocationFix(0, 0), "0.0,0.0"},
	}

	for _, c := range cases {
		if got := string(Encode(c.fix)); got != c.want {
			t.Errorf("Encode(%v) = %q, want %q", c.fix, got, c.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		fix := models.NewLocationFix(rng.Float64()*180-90, rng.Float64()*360-180)
		got, err := Decode(Encode(fix))
		if err != nil {
			t.Fatalf("Decode(Encode(%v)): %v", fix, err)
		}
		if math.Abs(got.Latitude-fix.Latitude) > 1e-6 || math.Abs(got.Longitude-fix.Longitude) > 1e-6 {
			t.Fatalf("round trip mismatch: %v -> %v", fix, got)
		}
	}
}

func TestDecode(t *testing.T) {
	got, err := Decode([]byte("37.422000,-122.084000"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Latitude != 37.422 || got.Longitude != -122.084 {
		t.Errorf("unexpected fix %v", got)
	}
	if got.HasTimestamp() {
		t.Error("decoded fix must not carry a timestamp")
	}

	got, err = Decode([]byte("10.0,20.0\n"))
	if err != nil {
		t.Fatalf("trailing newline: %v", err)
	}
	if got.Latitude != 10 || got.Longitude != 20 {
		t.Errorf("unexpected fix %v", got)
	}
}

func TestDecodeOutOfRangeIsWellFormed(t *testing.T) {
	got, err := Decode([]byte("91.0,0.0"))
	if err != nil {
		t.Fatalf("out of range payload should decode: %v", err)
	}
	if got.Validate() == nil {
		t.Error("expected validation to reject latitude 91")
	}
}

func TestDecodeMalformed(t *testing.T) {
	payloads := []string{
		"37.4,",
		"abc,123",
		"1,2,3",
		"",
		"   ",
		",",
		"NaN,1",
		"1,Inf",
		"0x1p-2,1",
		"1;2",
		"37.4,2,2024-01-01 10:00:00",
	}

	for _, p := range payloads {
		_, err := Decode([]byte(p))
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("Decode(%q) = %v, want ParseError", p, err)
		}
	}
}
