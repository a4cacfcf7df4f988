// Package influxdb writes projector telemetry to InfluxDB v2.
//
// Points are batched by the official client and written asynchronously:
//
//	projector_power       power state changes (tag device_id)
//	projector_connection  link transitions and failed dials
//	projector_command     command outcomes with latency
//	projector_poll        status queries sent
//
// Telemetry implements projector.Observer, so the session feeds it directly:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	opts.Observer = influxdb.NewTelemetry(client, cfg.Projector.ID)
package influxdb
