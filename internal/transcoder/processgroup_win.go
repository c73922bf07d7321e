//go:build windows
// +build windows

package transcoder

import "syscall"

func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

// Windows has no process groups or TERM signal; both phases kill.

func (p *ProcessCtx) signalStop() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *ProcessCtx) forceKill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
