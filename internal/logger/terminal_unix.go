//go:build darwin || linux || freebsd

package logger

import (
	"os"

	"golang.org/x/sys/unix"
)

// SupportsColorEscapes reports whether this platform's terminal driver
// understands ANSI color escapes at all. It says nothing about whether a
// particular file descriptor is currently attached to one.
const SupportsColorEscapes = true

// TerminalInfo is consulted only by the optional human debug stream; it has
// no bearing on the Msg/Log diagnostics model, which is always plain data.
type TerminalInfo struct {
	IsTTY           bool
	UseColorEscapes bool
	Width           int
}

func GetTerminalInfo(file *os.File) (info TerminalInfo) {
	fd := int(file.Fd())
	if _, err := unix.IoctlGetTermios(fd, ioctlTermiosRequest); err != nil {
		return
	}
	info.IsTTY = true
	info.UseColorEscapes = os.Getenv("NO_COLOR") == ""
	if w, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ); err == nil {
		info.Width = int(w.Col)
	}
	return
}
