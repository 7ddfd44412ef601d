package systemd

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestNotifierStates(t *testing.T) {
	var got []string
	n := &Notifier{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		send: func(state string) (bool, error) {
			got = append(got, state)
			return true, nil
		},
	}

	n.Ready()
	n.Status("2 pipes")
	n.Reloading()
	n.Stopping()

	want := []string{"READY=1", "STATUS=2 pipes", "RELOADING=1", "STOPPING=1"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNotifierSendFailureIsLogged(t *testing.T) {
	n := &Notifier{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		send:   func(string) (bool, error) { return false, errors.New("no socket") },
	}
	n.Ready()
}
