package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMessageColor(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{SeveritySuccess, ColorSuccess},
		{SeverityWarning, ColorWarning},
		{SeverityError, ColorError},
		{SeverityInfo, ColorInfo},
		{"", ColorInfo},
		{"bogus", ColorInfo},
	}
	for _, tt := range tests {
		if got := (Message{Severity: tt.severity}).Color(); got != tt.want {
			t.Errorf("Color(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Notify(context.Background(), Message{Title: "x"})
		}()
	}
	wg.Wait()
	if got := len(r.Messages()); got != 10 {
		t.Errorf("recorded %d messages, want 10", got)
	}

	r.Err = errors.New("down")
	if err := r.Notify(context.Background(), Message{Title: "y"}); err == nil {
		t.Error("expected error from Recorder.Err")
	}
	if got := len(r.Messages()); got != 10 {
		t.Errorf("failed notify was recorded: %d messages", got)
	}
}

func TestNoopAndFunc(t *testing.T) {
	if err := (Noop{}).Notify(context.Background(), Message{}); err != nil {
		t.Errorf("Noop returned %v", err)
	}
	called := false
	var n Notifier = Func(func(context.Context, Message) error {
		called = true
		return nil
	})
	n.Notify(context.Background(), Message{Text: "hi"})
	if !called {
		t.Error("Func was not called")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(Message{}); err == nil {
		t.Error("expected error for empty message")
	}
	if err := Validate(Message{Text: "hello"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
