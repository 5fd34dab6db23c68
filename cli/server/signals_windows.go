//go:build windows

package server

import "syscall"

// sighup is never delivered on Windows.
const sighup = syscall.SIGHUP
