//go:build !windows

package main

import "syscall"

// getDaemonSysProcAttr returns the SysProcAttr for detaching the daemon on Unix-like systems.
func getDaemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}
