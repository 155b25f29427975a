package infra

import (
	_ "unsafe"
)

//go:linkname procYield runtime.procyield
func procYield(cycles uint32)

// ProcYield executes the PAUSE (amd64) or YIELD (arm64) instruction
// cycles times. It never gives up the P.
func ProcYield(cycles uint32) {
	procYield(cycles)
}
