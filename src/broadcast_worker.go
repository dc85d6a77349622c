package main

import (
	"context"
	"log"
)

// broadcastWorker receives status snapshots and fans out to the status server
// and debug console
func broadcastWorker(ctx context.Context, inputChan <-chan StatusSnapshot, outputChans []chan<- StatusSnapshot) {
	for {
		select {
		case snap := <-inputChan:
			// Fan out using non-blocking sends
			for i, ch := range outputChans {
				select {
				case ch <- snap:
				case <-ctx.Done():
					return
				default:
					log.Printf("Warning: downstream worker %d channel full, dropping update\n", i)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}
