package audio

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Candidates lists the devices a source can record from.
func Candidates(ctx Context, source Source) ([]DeviceInfo, error) {
	if source == Desktop {
		return ctx.LoopbackDevices()
	}
	return ctx.Devices()
}

// SelectDevice presents an interactive picker over the devices for source.
// A single candidate is returned without prompting.
func SelectDevice(ctx Context, source Source) (*DeviceInfo, error) {
	devices, err := Candidates(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("no %s devices found", source)
	}

	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	renderList := func() {
		fmt.Print("\r\x1b[J")
		fmt.Printf("Select %s device (↑/↓, Enter to confirm, Esc for default):\r\n\r\n", source)
		for i, d := range devices {
			btTag := ""
			if IsBluetooth(d.Name) {
				btTag = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
			}
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
			} else {
				fmt.Printf("    %s%s\r\n", d.Name, btTag)
			}
		}
	}

	renderList()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		if n == 1 {
			switch buf[0] {
			case 13: // Enter
				fmt.Print("\r\n")
				return &devices[cursor], nil
			case 3, 27: // Ctrl+C, Esc
				fmt.Print("\r\n")
				return nil, nil
			case 'j':
				cursor = min(cursor+1, len(devices)-1)
			case 'k':
				cursor = max(cursor-1, 0)
			}
		} else if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
			switch buf[2] {
			case 'A':
				cursor = max(cursor-1, 0)
			case 'B':
				cursor = min(cursor+1, len(devices)-1)
			}
		}

		fmt.Printf("\x1b[%dA", len(devices)+2)
		renderList()
	}
}
