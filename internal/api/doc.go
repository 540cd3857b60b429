// Package api exposes the supervisor over HTTP using echo.
//
// # Envelope
//
// Every response is a JSON object with "status" set to "success" or "error"
// and a human-readable "message", plus operation-specific fields such as
// "agent_id", "result", or "agents".
//
// # Routes
//
//	POST /api/create-agent         create from a tagged task; honours Idempotency-Key
//	POST /api/run-agent/:id        run in-process, or in a child process with "subprocess": true
//	GET  /api/agents               idle time and time left for every agent
//	GET  /api/agents/:id           status of one agent
//	GET  /api/agents/:id/history   lifecycle ledger entries
//	POST /api/cleanup-agent/:id    remove now, or after "delay" seconds
//	POST /api/check-cleanup        run a reclamation sweep now
//	POST /api/ensure-cleanup       remove every agent and orphaned program file
//	GET  /health                   liveness
//	GET  /health/ready             200 while the reclamation timer is armed
//
// # Errors
//
// Unknown agents map to 404, duplicate names to 409, invalid names and
// malformed bodies to 400, and everything else to 500.
package api
