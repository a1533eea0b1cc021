/*
Package event provides the pub/sub bus the gateway uses to report lifecycle
events.

# Architecture

Events are JSON-encoded into watermill messages and published on a
gochannel pub/sub. A single router goroutine consumes the topic and calls the
subscribers, so events from one publisher reach every subscriber in publish
order. Publish returns once the router has accepted the event.

Subscribers run on the router goroutine. They must not publish on the same
bus synchronously and should hand slow work to their own goroutines.

# Event Types

  - listener.bound: the acceptor bound its address
  - session.opened: a session started on an accepted connection
  - session.closed: a session ended, with its handled count and error
  - connection.rejected: a connection failed the WebSocket handshake

# Usage

	bus := event.NewBus()
	defer bus.Close()

	unsub := bus.Subscribe(event.SessionClosed, func(e event.Event) {
	    var data event.SessionClosedData
	    if err := e.Decode(&data); err == nil {
	        log.Printf("session %s handled %d requests", data.SessionID, data.Handled)
	    }
	})
	defer unsub()
*/
package event
