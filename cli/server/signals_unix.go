//go:build !windows

package server

import "syscall"

// sighup triggers an immediate garbage collection pass.
const sighup = syscall.SIGHUP
