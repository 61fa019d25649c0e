// Package mqtt provides the broker connection for Status Core.
//
// MQTT is the system's bus: retained entity state flows in on
// statuscore/state/#, service calls flow out on statuscore/service/+/+,
// status events arrive on statuscore/event and the controller and
// automations publish retained status snapshots under their own topics.
// The Topics type centralises topic naming so every package builds the
// same strings.
//
// The client auto-reconnects with exponential backoff, restores tracked
// subscriptions on reconnect, and registers a Last Will so the retained
// system status flips to offline when the process dies ungracefully.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.Event(), 1,
//	    func(topic string, payload []byte) error {
//	        // parse and enqueue the status event
//	        return nil
//	    })
package mqtt
