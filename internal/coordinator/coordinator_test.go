package coordinator

import (
	"net"
	"testing"

	"github.com/foveate/hostd/internal/sessiontypes"
)

func TestMediaStatusLabelAllTrueIsRunning(t *testing.T) {
	state := sessiontypes.MediaServiceState{OpenXRRuntimeRunning: true, ClientConnected: true, GameConnected: true}
	if got := mediaStatusLabel(state); got != "Running" {
		t.Fatalf("got %q, want Running", got)
	}
}

func TestMediaStatusLabelAllFalseIsStopped(t *testing.T) {
	if got := mediaStatusLabel(sessiontypes.MediaServiceState{}); got != "Stopped" {
		t.Fatalf("got %q, want Stopped", got)
	}
}

func TestMediaStatusLabelPartialIsPaused(t *testing.T) {
	cases := []sessiontypes.MediaServiceState{
		{OpenXRRuntimeRunning: true},
		{ClientConnected: true},
		{GameConnected: true},
		{OpenXRRuntimeRunning: true, ClientConnected: true},
	}
	for _, state := range cases {
		if got := mediaStatusLabel(state); got != "Paused (details…)" {
			t.Errorf("state %+v: got %q, want Paused (details…)", state, got)
		}
	}
}

func TestAdvertiseAddressesRejectsNonIP(t *testing.T) {
	if _, err := advertiseAddresses("not-an-ip"); err == nil {
		t.Fatal("expected error for non-IP address")
	}
}

func TestAdvertiseAddressesPassesThroughSpecificAddress(t *testing.T) {
	addrs, err := advertiseAddresses("192.168.1.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 1 || !addrs[0].Equal(net.ParseIP("192.168.1.5")) {
		t.Fatalf("got %v, want [192.168.1.5]", addrs)
	}
}

func TestAdvertiseAddressesExpandsUnspecified(t *testing.T) {
	addrs, err := advertiseAddresses("0.0.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, a := range addrs {
		if a.IsLoopback() {
			t.Errorf("expected loopback addresses excluded, got %v", a)
		}
	}
}
