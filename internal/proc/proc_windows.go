//go:build windows

package proc

import "os/exec"

func configureSysProc(cmd *exec.Cmd) {}

// Windows has no graceful POSIX signal; termination is always hard.
func terminateProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
