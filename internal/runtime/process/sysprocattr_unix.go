//go:build !windows && !linux

package process

import (
	"os/exec"
	"syscall"
)

func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: spec.NewProcessGroup}
}
