//go:build windows

package process

import "os/exec"

func configureSysProcAttr(*exec.Cmd, Spec) {}
