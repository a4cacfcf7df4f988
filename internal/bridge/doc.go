// Package bridge connects a projector session to the Gray Logic MQTT bus.
//
// Commands arrive on graylogic/command/projector/{device_id}:
//
//	{"id": "cmd-1", "device_id": "projector-1", "command": "on", "source": "api"}
//
// Supported commands are on, off, toggle and status. Power commands are
// acknowledged on graylogic/ack/projector/{device_id} once the projector
// answers or the command fails; status republishes the retained state on
// graylogic/state/projector/{device_id}. Health is published, retained, on
// graylogic/health/projector every health interval.
//
// Session callbacks never publish directly: outgoing messages go through a
// bounded queue drained by one worker, so a slow broker cannot stall the
// session's event loop.
package bridge
