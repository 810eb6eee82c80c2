//go:build !windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

const exeSuffix = ""

// setProcessGroup puts the worker in its own process group so a stop
// reaches any children it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGTERM) //nolint:wrapcheck // caller falls back to kill
}

func kill(p *os.Process) {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		_ = p.Kill()
	}
}
