// Package udp provides a multi-port UDP receiver that confirms every
// datagram it receives.
//
// A Listener owns one Socket per port. Each Socket receives datagrams one at
// a time and answers the sender of each with
//
//	Successfully transferred <N> bytes
//
// where N is the payload length.
//
// # Subscribers
//
// A Listener forwards a LogRecord for every receive and confirmation that
// completes without error, and an owned copy of every received payload, to
// at most one LogFunc and one DataReaderFunc. Subscribing replaces the
// previous callback; unsubscribing clears it. Failed receives and
// confirmations never reach the subscribers. They are counted in Stats and
// written, rate limited, to the Listener's own logger.
//
// # Lifecycle
//
//  1. ListenOn binds a port synchronously and arms the first receive
//  2. Each receive completion is logged, confirmed and forwarded, then the
//     next receive is armed
//  3. StopListeningOn closes the port's Socket and waits for its pending
//     work; no completion fires for it afterwards
//  4. Removing the last Socket stops, drains and resets the Driver so the
//     Listener can be reused
//  5. Close releases every remaining Socket and stops the Driver for good
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Subscribed callbacks run
// on Driver goroutines and must not call back into ListenOn,
// StopListeningOn or Close.
package udp
