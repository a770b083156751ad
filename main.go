// fleetmend — fleet remediation orchestrator
//
// A single binary that queues remediation actions against fleet hosts,
// executes them with retry/backoff and a dead-letter queue, gates risky
// actions on human approval, and plans staged fleet rollouts with
// blast-radius caps.
//
// Usage:
//
//	fleetmend serve                               # API + drain loop
//	fleetmend enqueue web-01 restart-nginx        # queue one run
//	fleetmend queue status --dlq                  # inspect dead letters
//	fleetmend fleet preview --action restart-nginx --group web
package main

import "github.com/tinkerbelle-io/fleetmend/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
