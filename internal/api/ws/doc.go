// Package ws provides the websocket message channel between pages and the
// agent.
//
// Each connection registers as a host client. Frames from the page are
// agent messages ({"type":"GET_VERSION"}); the agent answers on the same
// socket, and the host pushes CONTROLLER_CHANGE frames when a new version
// claims its clients.
package ws
