//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

const exeSuffix = ".exe"

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// terminate kills outright: console processes cannot be sent a catchable
// termination signal without sharing a console with the host.
func terminate(p *os.Process) error {
	return p.Kill() //nolint:wrapcheck // caller falls back to kill
}

func kill(p *os.Process) {
	_ = p.Kill()
}
