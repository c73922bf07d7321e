//go:build !windows
// +build !windows

package transcoder

import "syscall"

// processGroupAttr puts the encoder in its own process group so stop
// signals reach ffmpeg and any children it forks.
func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func (p *ProcessCtx) signalStop() {
	if p.cmd.Process == nil {
		return
	}

	pgid, err := syscall.Getpgid(p.cmd.Process.Pid)
	if err == nil {
		err = syscall.Kill(-pgid, syscall.SIGTERM)
		if err != nil {
			p.logger.Warn().Err(err).Msg("could not signal process group")
		}
		return
	}

	p.logger.Warn().Err(err).Msg("could not get process group id")
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Warn().Err(err).Msg("could not signal process")
	}
}

func (p *ProcessCtx) forceKill() {
	if p.cmd.Process == nil {
		return
	}

	pgid, err := syscall.Getpgid(p.cmd.Process.Pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}

	_ = p.cmd.Process.Kill()
}
