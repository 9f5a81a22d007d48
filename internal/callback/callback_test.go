package callback

import (
	"errors"
	"testing"
)

func TestFormatParseRoundTrip(t *testing.T) {
	cases := []Data{
		{Kind: Accept, ID: 42},
		{Kind: Cancel, ID: 7},
		{Kind: Postpone, ID: 1},
		{Kind: Menu, Arg: "recharge"},
		{Kind: Product, ID: 19},
		{Kind: VerifyJoin, ID: 555, Arg: "a1b2c3"},
	}
	for _, c := range cases {
		got, err := Parse(Format(c))
		if err != nil {
			t.Fatalf("parse %q: %v", Format(c), err)
		}
		if got != c {
			t.Fatalf("round trip %q: got %+v want %+v", Format(c), got, c)
		}
	}
}

func TestParseRejectsUnknownKind(t *testing.T) {
	if _, err := Parse("selfdestruct:1"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := Parse(""); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind for empty data, got %v", err)
	}
}

func TestParseStringArgument(t *testing.T) {
	d, err := Parse("menu:cash_transfer")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Kind != Menu || d.Arg != "cash_transfer" || d.ID != 0 {
		t.Fatalf("got %+v", d)
	}
}
