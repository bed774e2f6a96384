//go:build !unix && !windows

package postprocess

import "os/exec"

func configurePriority(cmd *exec.Cmd) {}

func lowerPriority(pid int) error {
	return nil
}
