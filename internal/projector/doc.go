// Package projector manages a resilient power-control session with an Optoma
// projector over its ASCII control protocol.
//
// The device protocol has no framing and no request IDs. Every inbound chunk
// is classified purely by substring content (see OptomaCodec), and the
// session correlates acknowledgements with the single in-flight command by
// ordering alone.
//
// A Session owns one logical link:
//
//   - connect and reconnect with bounded backoff
//   - periodic status polling and silent-link detection
//   - the pending-command slot (at most one outstanding)
//   - the cached power state and change notification
//
// All session state is mutated on a single event-loop goroutine. Transport
// reads, dials and timers hand their events to that loop, so handlers never
// run concurrently. Public methods are safe for concurrent use.
//
// Usage:
//
//	s, err := projector.New(cfg, projector.Options{Logger: log})
//	if err != nil {
//	    return err
//	}
//	s.OnStateChanged(func(p projector.PowerState) { ... })
//	s.Start()
//	defer s.Close()
//
//	s.RequestPowerChange(true, func(err error) { ... })
package projector
