package rotate

import (
	"context"
	"log"
	"os"
)

// ExitRotator exits the process and relies on the supervisor to restart
// it with a fresh network namespace or tunnel binding. It never returns.
type ExitRotator struct {
	// Code is the exit code (default 0, so supervisors treat it as a
	// clean restart).
	Code int
}

// Rotate implements Rotator by terminating the process.
func (e ExitRotator) Rotate(context.Context) (Rotation, error) {
	log.Printf("rotate: exiting for supervisor restart")
	os.Exit(e.Code)
	return Rotation{}, nil // unreachable
}
