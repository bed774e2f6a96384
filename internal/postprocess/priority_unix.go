//go:build unix

package postprocess

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// Nice value given to processing children.
const backgroundNice = 10

func configurePriority(cmd *exec.Cmd) {}

func lowerPriority(pid int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, backgroundNice)
}
