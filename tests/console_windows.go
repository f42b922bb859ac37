//go:build windows

package main

import (
	"os"

	"golang.org/x/sys/windows"
)

// initConsole turns on ANSI escapes so the status line redraws in place.
func initConsole() {
	h := windows.Handle(os.Stdout.Fd())
	var mode uint32
	if err := windows.GetConsoleMode(h, &mode); err != nil {
		return
	}
	_ = windows.SetConsoleMode(h, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING)
}
