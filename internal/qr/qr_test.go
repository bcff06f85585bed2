package qr_test

import (
	"testing"

	"ticketline/internal/qr"
)

func TestTokenFormat(t *testing.T) {
	if got := qr.Token(42, "bundle"); got != "42:bundle" {
		t.Errorf("Expected 42:bundle, got %s", got)
	}
	if got := qr.Token(42, ""); got != "42" {
		t.Errorf("Expected bare 42, got %s", got)
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		token string
		want  int64
		bare  bool
		ok    bool
	}{
		{"42", 42, true, true},
		{"42:bundle", 42, false, true},
		{"QR:42", 42, false, true},
		{"QR:42:single", 42, false, true},
		{" 42 ", 42, true, true},
		{"0", 0, false, false},
		{"-5", 0, false, false},
		{"abc", 0, false, false},
		{"", 0, false, false},
		{"QR:", 0, false, false},
	}
	for _, c := range cases {
		got, bare, ok := qr.Parse(c.token)
		if ok != c.ok || got != c.want || bare != c.bare {
			t.Errorf("Parse(%q) = (%d, %v, %v), want (%d, %v, %v)", c.token, got, bare, ok, c.want, c.bare, c.ok)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	for _, kind := range []string{"single", "bundle", ""} {
		token := qr.Token(17, kind)
		got, _, ok := qr.Parse(token)
		if !ok || got != 17 {
			t.Errorf("Round trip of kind %q failed: got (%d, %v)", kind, got, ok)
		}
	}
}

func TestPNGEncodes(t *testing.T) {
	gen := qr.NewGenerator()
	png, err := gen.PNG(42, "single")
	if err != nil {
		t.Fatalf("Failed to encode QR: %v", err)
	}
	if len(png) == 0 {
		t.Fatal("Expected PNG bytes")
	}
	// PNG magic header
	if string(png[1:4]) != "PNG" {
		t.Error("Expected a PNG image")
	}
}
