package input

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// OpenTerminalKeys reads keys from in. When in is a terminal it is put into
// raw mode so single key presses arrive without Enter; Close restores it.
func OpenTerminalKeys(in *os.File) (*StreamKeys, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return NewStreamKeys(in, nil), nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("set raw mode: %w", err)
	}
	return NewStreamKeys(in, func() error {
		return term.Restore(fd, state)
	}), nil
}
