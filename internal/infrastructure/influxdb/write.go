package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementReaderEvent     = "reader_event"
	MeasurementConnectionState = "reader_connection"
	MeasurementReaderCapacity  = "reader_capacity"
)

func readerTags(readerID int, uniqueName string) map[string]string {
	return map[string]string{
		"reader_id":   strconv.Itoa(readerID),
		"unique_name": uniqueName,
	}
}

// readerEventPoint builds the point for one card scan.
func readerEventPoint(readerID int, uniqueName string, userID int32, incidence string, at time.Time) *write.Point {
	tags := readerTags(readerID, uniqueName)
	tags["incidence"] = incidence
	return write.NewPoint(MeasurementReaderEvent, tags,
		map[string]any{"user_id": int64(userID)}, at)
}

// connectionStatePoint builds the point for one connection state change.
// connected is 1 only for the fully operational state so dashboards can
// chart availability directly.
func connectionStatePoint(readerID int, uniqueName, state string, connected bool, at time.Time) *write.Point {
	up := 0
	if connected {
		up = 1
	}
	return write.NewPoint(MeasurementConnectionState, readerTags(readerID, uniqueName),
		map[string]any{"state": state, "connected": up}, at)
}

func capacityPoint(readerID int, uniqueName string, current, maximum int32, at time.Time) *write.Point {
	return write.NewPoint(MeasurementReaderCapacity, readerTags(readerID, uniqueName),
		map[string]any{"current": int64(current), "maximum": int64(maximum)}, at)
}

// WriteReaderEvent records a card scan. Non-blocking; dropped when the
// client is closed.
func (c *Client) WriteReaderEvent(readerID int, uniqueName string, userID int32, incidence string, at time.Time) {
	c.writePoint(readerEventPoint(readerID, uniqueName, userID, incidence, at))
}

// WriteConnectionState records a reader connection state change.
func (c *Client) WriteConnectionState(readerID int, uniqueName, state string, connected bool, at time.Time) {
	c.writePoint(connectionStatePoint(readerID, uniqueName, state, connected, at))
}

// WriteCapacity records a reader's occupancy report.
func (c *Client) WriteCapacity(readerID int, uniqueName string, current, maximum int32, at time.Time) {
	c.writePoint(capacityPoint(readerID, uniqueName, current, maximum, at))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
