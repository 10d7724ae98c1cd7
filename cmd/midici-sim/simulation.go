package main

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// simulatedState is the body written to the simulated resource.
type simulatedState struct {
	Program   int   `json:"program"`
	Volume    int   `json:"volume"`
	Tick      int   `json:"tick"`
	Timestamp int64 `json:"timestamp"`
}

// runSimulation changes resource on the responder every interval, which
// sends subscription updates to subscribed initiators.
func runSimulation(ctx context.Context, sim *simulator, resource string, interval time.Duration) {
	log.Printf("Simulation mode enabled (%s every %s)", resource, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	state := simulatedState{Program: 1, Volume: 100}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			state.Tick++
			state.Program = state.Program%128 + 1
			// Volume sweeps 64..127 and back.
			state.Volume = 64 + abs(63-(state.Tick*8)%126)
			state.Timestamp = now.UnixMilli()

			body, err := json.Marshal(state)
			if err != nil {
				log.Printf("[SIM] Encode failed: %v", err)
				return
			}
			if err := sim.Touch(resource, body); err != nil {
				log.Printf("[SIM] Stopping: %v", err)
				return
			}
			log.Printf("[SIM] %s program=%d volume=%d", resource, state.Program, state.Volume)
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
