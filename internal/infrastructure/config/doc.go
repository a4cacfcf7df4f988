// Package config loads config.yaml for the projector bridge.
//
// Values are layered: built-in defaults, then the YAML file, then
// GRAYLOGIC_<SECTION>_<KEY> environment variables. Load validates the
// result and reports every problem at once.
//
// Keep the MQTT password, InfluxDB token and HomeKit PIN in the
// environment rather than the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	session, err := projector.New(cfg.Projector.SessionConfig(),
//	    projector.Options{Dialer: cfg.Projector.Dialer()})
package config
