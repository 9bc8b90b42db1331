// Package api holds the wire types of the Perspectra HTTP API.
//
// # API Overview
//
// All routes live under /api/v1 and answer with the envelope defined in
// api/handlers:
//
//	POST   /conversations                 create (optionally auto-start)
//	GET    /conversations                 list the caller's conversations
//	GET    /conversations/{id}            metadata and current state
//	DELETE /conversations/{id}            delete with its messages
//	GET    /conversations/{id}/messages   transcript in timestamp order
//	POST   /conversations/{id}/messages   user message, interrupts a running discussion
//	POST   /conversations/{id}/start      begin autonomous turns
//	POST   /conversations/{id}/pause
//	POST   /conversations/{id}/resume
//	POST   /conversations/{id}/stop
//	POST   /conversations/{id}/respond    one manual persona turn while not running
//	PUT    /conversations/{id}/interval   speaking interval, snapped to range and step
//	GET    /conversations/{id}/state
//	GET    /conversations/{id}/events     websocket stream of StreamEvent frames
//	GET    /personas
//
// # Authentication
//
// When enabled, requests carry either "Authorization: Bearer <jwt>" or
// "X-API-Key: <key>". Browsers opening the event stream may pass the JWT
// as the access_token query parameter instead.
package api
