package chat

import (
	"context"
	"log"
	"time"
)

// monitorLoop probes backend health once immediately and then on a fixed
// interval. There is no backoff; the next tick is the retry.
func (o *Orchestrator) monitorLoop() {
	defer o.wg.Done()

	o.probe()

	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.probe()
		}
	}
}

// probe refreshes the connection state. A failed probe degrades the state
// to disconnected; it never propagates an error upward.
func (o *Orchestrator) probe() {
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.ProbeTimeout)
	defer cancel()

	health, err := o.client.Health(ctx)

	o.mu.Lock()
	was := o.connected
	if err != nil {
		o.connected = false
		o.connErr = "backend unreachable"
		o.modelInfo = nil
	} else {
		o.connected = true
		o.connErr = ""
		o.modelInfo = health.ModelInfo
	}
	o.mu.Unlock()

	if err != nil {
		if was {
			log.Printf("WARN: health probe failed: %v", err)
		}
	} else if !was {
		log.Printf("INFO: backend connected")
	}

	o.emit(Event{Kind: EventStateChanged})
}
