package es

import (
	"fmt"
	"testing"
)

func TestExpectedVersion_Any(t *testing.T) {
	ev := Any()

	if !ev.IsAny() {
		t.Error("Expected IsAny() to be true")
	}
	if ev.IsNoStream() || ev.IsExact() {
		t.Error("Expected IsNoStream() and IsExact() to be false")
	}
	if ev.Value() != 0 {
		t.Errorf("Expected Value() to be 0, got %d", ev.Value())
	}
	if ev.String() != "Any" {
		t.Errorf("Expected String() to be 'Any', got '%s'", ev.String())
	}
}

func TestExpectedVersion_NoStream(t *testing.T) {
	ev := NoStream()

	if !ev.IsNoStream() {
		t.Error("Expected IsNoStream() to be true")
	}
	if ev.IsAny() || ev.IsExact() {
		t.Error("Expected IsAny() and IsExact() to be false")
	}
	if ev.String() != "NoStream" {
		t.Errorf("Expected String() to be 'NoStream', got '%s'", ev.String())
	}
}

func TestExpectedVersion_Exact(t *testing.T) {
	for _, version := range []int64{0, 1, 5, 100} {
		t.Run(fmt.Sprintf("version %d", version), func(t *testing.T) {
			ev := Exact(version)

			if !ev.IsExact() {
				t.Error("Expected IsExact() to be true")
			}
			if ev.Value() != version {
				t.Errorf("Expected Value() to be %d, got %d", version, ev.Value())
			}
			if want := fmt.Sprintf("Exact(%d)", version); ev.String() != want {
				t.Errorf("Expected String() to be '%s', got '%s'", want, ev.String())
			}
		})
	}
}

func TestExpectedVersion_Exact_Panic(t *testing.T) {
	for _, version := range []int64{-1, -100} {
		t.Run(fmt.Sprintf("version %d", version), func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Expected Exact(%d) to panic", version)
				}
			}()
			Exact(version)
		})
	}
}

func TestExpectedVersion_Satisfied(t *testing.T) {
	tests := []struct {
		name     string
		expected ExpectedVersion
		current  int64
		want     bool
	}{
		{"any on empty stream", Any(), 0, true},
		{"any on existing stream", Any(), 7, true},
		{"no stream on empty stream", NoStream(), 0, true},
		{"no stream on existing stream", NoStream(), 1, false},
		{"exact zero on empty stream", Exact(0), 0, true},
		{"exact match", Exact(3), 3, true},
		{"exact behind", Exact(2), 3, false},
		{"exact ahead", Exact(4), 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.expected.Satisfied(tt.current); got != tt.want {
				t.Errorf("%s.Satisfied(%d) = %v, want %v", tt.expected, tt.current, got, tt.want)
			}
		})
	}
}
