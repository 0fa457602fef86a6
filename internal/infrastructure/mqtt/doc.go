// Package mqtt wraps the Eclipse Paho client for CardPass Core.
//
// CardPass uses MQTT as its outward event bus: reader connection state,
// card scans, occupancy and a periodic health summary are published under
// the "cardpass/" root (see Topics), and operator commands arrive on
// cardpass/command/reader/{id} and cardpass/command/site.
//
// The client:
//   - Publishes a retained online status on every (re)connect and sets a
//     last will so the broker marks the instance offline on a crash
//   - Reconnects automatically and restores subscriptions
//   - Recovers panics in message handlers and logs handler errors
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().ReaderState(7), info, true)
package mqtt
