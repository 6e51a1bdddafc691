// Package raspi detects Raspberry Pi hosts and configures the agent process
// that runs on them.
package raspi

import (
	"bytes"
	"os"
)

// ModelPath is where the device tree exposes the board model.
const ModelPath = "/proc/device-tree/model"

// AgentCPU is the core the agent is pinned to, away from the spine.
const AgentCPU = 3

// AgentNiceness raises the agent priority.
const AgentNiceness = -10

var modelPath = ModelPath

// OnRaspi reports whether the host is a Raspberry Pi.
func OnRaspi() bool {
	model, err := os.ReadFile(modelPath)
	if err != nil {
		return false
	}
	return IsRaspiModel(model)
}

func IsRaspiModel(model []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(model), []byte("Raspberry Pi"))
}
