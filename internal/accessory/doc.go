// Package accessory exposes the projector session as a HomeKit switch.
//
// The switch mirrors the session's cached power state. A remote toggle from
// the Home app becomes a power change request; if the request fails the
// switch snaps back to the cached value so the Home app never shows a state
// the projector did not confirm.
//
//	acc, err := accessory.New(cfg, session, logger)
//	acc.Start(ctx)
//	defer acc.Stop()
//
// While the projector is unreachable the switch keeps its last cached value.
package accessory
