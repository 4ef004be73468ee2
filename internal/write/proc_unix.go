//go:build !windows

package write

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group. A terminal Ctrl-C then
// reaches xurl only, and ExecRunner relays it to the child exactly once.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
