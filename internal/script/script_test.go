package script

import (
	"errors"
	"strings"
	"testing"
)

func TestStringValueTruthy(t *testing.T) {
	cases := []struct {
		v    StringValue
		want bool
	}{
		{"", false},
		{"false", false},
		{"true", true},
		{"0", true},
	}
	for _, c := range cases {
		if got := c.v.Truthy(); got != c.want {
			t.Errorf("StringValue(%q).Truthy() = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestBoolValueString(t *testing.T) {
	if BoolValue(true).String() != "true" {
		t.Fatal("BoolValue(true).String() should be \"true\"")
	}
	if BoolValue(false).String() != "false" {
		t.Fatal("BoolValue(false).String() should be \"false\"")
	}
}

func TestHandleIsZero(t *testing.T) {
	var zero Handle
	if !zero.IsZero() {
		t.Fatal("zero-value Handle should report IsZero() == true")
	}
	if NewHandle("x").IsZero() {
		t.Fatal("NewHandle(\"x\") should not be zero")
	}
}

func TestWrapErrorIncludesContext(t *testing.T) {
	err := WrapError(7, "thin", "onExecute", errors.New("boom"))
	if !errors.Is(err, ErrScriptError) {
		t.Fatal("WrapError result should wrap ErrScriptError")
	}
	msg := err.Error()
	for _, want := range []string{"stand=7", "activity=thin", "event=onExecute", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}
