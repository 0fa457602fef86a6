// Package influxdb records reader activity in InfluxDB using the official
// influxdb-client-go v2 library.
//
// Three measurements are written, each tagged with reader_id and
// unique_name:
//   - reader_event: one point per card scan (user_id, incidence tag)
//   - reader_connection: one point per connection state change
//   - reader_capacity: occupancy reports from the device
//
// Writes are non-blocking and batched according to influxdb.batch_size and
// influxdb.flush_interval. Batch failures are delivered to the SetOnError
// callback; connection and health check errors are returned directly.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteReaderEvent(7, "door-a", 1042, "granted", time.Now())
package influxdb
