// Package telemetry connects the reader connection manager to the outside
// world.
//
// Publisher subscribes to manager notifications and forwards them to MQTT
// (retained reader state and capacity, card scan events), InfluxDB (time
// series) and the SQLite event log. HealthReporter publishes a retained
// health summary on cardpass/system/health. CommandHandler accepts JSON
// commands on cardpass/command/reader/{id} and cardpass/command/site and
// acknowledges them on cardpass/command/ack.
//
// Every sink is optional. A nil or disconnected MQTT client simply skips
// publishing.
package telemetry
