package fetch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lotwatch/lotwatch/internal/browser"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrSessionBroken, false},
		{fmt.Errorf("wrap: %w", ErrSessionBroken), false},
		{errors.New("navigate x: page load error net::ERR_CONNECTION_RESET"), true},
		{errors.New("net::ERR_NAME_NOT_RESOLVED"), true},
		{errors.New("net::ERR_TIMED_OUT"), true},
		{errors.New("net::ERR_NETWORK_CHANGED"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("net::ERR_ABORTED"), false},
		{errors.New("some javascript exception"), false},
	}
	for _, tt := range tests {
		if got := isTransient(tt.err); got != tt.want {
			t.Errorf("isTransient(%v): got %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestFetch_DeadSessionIsBroken(t *testing.T) {
	f := &Fetcher{}
	// A zero-value session has no browser context and must fail fast.
	if _, err := f.Fetch(&browser.Session{}, "https://example.com", ""); !errors.Is(err, ErrSessionBroken) {
		t.Fatalf("got %v, want ErrSessionBroken", err)
	}
}
