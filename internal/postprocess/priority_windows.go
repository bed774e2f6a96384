//go:build windows

package postprocess

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

func configurePriority(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.BELOW_NORMAL_PRIORITY_CLASS}
}

func lowerPriority(pid int) error {
	return nil
}
