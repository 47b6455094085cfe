// Package tui provides the terminal watch view for a Turbo Swarm session.
//
// The App model follows a single session: it consumes the session's event
// stream for the Events tab and polls status, agents and tasks at a fixed
// refresh rate for the header and the Agents and Tasks tabs. Keys:
//
//	tab / 1-3   switch tabs
//	up / down   scroll the events log
//	q, ctrl+c   quit (the session keeps running)
package tui
