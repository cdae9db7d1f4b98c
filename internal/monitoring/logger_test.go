package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...any) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("no-op logger should not reach the previous logger")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("test message: %s", "value")
}

func TestEvery(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...any) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	logf := Every(3)
	for i := 1; i <= 7; i++ {
		logf("call %d", i)
	}

	want := []string{"call 1", "call 4", "call 7"}
	if len(got) != len(want) {
		t.Fatalf("got %d lines %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEvery_NonPositiveLogsAll(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	count := 0
	SetLogger(func(string, ...any) { count++ })

	logf := Every(0)
	for i := 0; i < 4; i++ {
		logf("x")
	}
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}
}
