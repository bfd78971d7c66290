package traffic

import (
	"os/exec"

	"github.com/shirou/gopsutil/process"
)

// Swapped in tests
var (
	execCommand = exec.CommandContext
	lookPath    = exec.LookPath
)

// killTree terminates pid and everything it spawned, children first
func killTree(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return killProcess(p)
}

func killProcess(p *process.Process) error {
	children, _ := p.Children()
	for _, c := range children {
		killProcess(c)
	}
	return p.Kill()
}

// bindTreeKill makes context cancellation kill the whole process tree of cmd
func bindTreeKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := killTree(cmd.Process.Pid); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}
