// Package mqtt connects the projector bridge to the Gray Logic message bus.
//
// The client wraps paho.mqtt.golang and adds:
//   - auto-reconnect with subscriptions restored after every reconnect
//   - a retained per-service status topic with a Last Will for crash detection
//   - input validation and timeouts on publish and subscribe
//   - panic recovery around message handlers
//
// # Topics
//
// Projector topics follow the flat bridge scheme
// graylogic/{category}/projector/{device_id}:
//
//	graylogic/command/projector/{id}   commands in
//	graylogic/ack/projector/{id}       command outcomes out
//	graylogic/state/projector/{id}     retained power state out
//	graylogic/health/projector         retained bridge health out
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.DeviceCommand("projector-1"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqtt
