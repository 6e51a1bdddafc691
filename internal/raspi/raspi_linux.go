//go:build linux

package raspi

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// ConfigureAgentProcess pins the process to AgentCPU and raises its
// priority. Raising the priority needs privileges, so a failure there is
// only logged.
func ConfigureAgentProcess(logger *slog.Logger) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(AgentCPU)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("set CPU affinity to core %d: %w", AgentCPU, err)
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, AgentNiceness); err != nil {
		logger.Warn("could not raise agent priority", "niceness", AgentNiceness, "error", err)
	}
	logger.Info("configured agent process", "cpu", AgentCPU)
	return nil
}
