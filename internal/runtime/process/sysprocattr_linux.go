//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	attr := &syscall.SysProcAttr{Setpgid: spec.NewProcessGroup}
	if spec.ParentDeath {
		attr.Pdeathsig = syscall.SIGTERM
	}
	cmd.SysProcAttr = attr
}
