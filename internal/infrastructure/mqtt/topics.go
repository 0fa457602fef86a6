package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicRoot is the first level of every CardPass topic.
const TopicRoot = "cardpass"

// Topics builds CardPass MQTT topics.
//
//	cardpass/system/status                 retained online/offline
//	cardpass/system/health                 retained connection summary
//	cardpass/reader/{id}/state             retained ConnectionInfo
//	cardpass/reader/{id}/event             card scans
//	cardpass/reader/{id}/capacity          retained occupancy
//	cardpass/command/reader/{id}           inbound per-reader commands
//	cardpass/command/site                  inbound site-wide commands
//	cardpass/command/ack                   command results
type Topics struct{}

// SystemStatus returns the retained online/offline topic.
func (Topics) SystemStatus() string {
	return TopicRoot + "/system/status"
}

// Health returns the retained health summary topic.
func (Topics) Health() string {
	return TopicRoot + "/system/health"
}

// ReaderState returns the retained connection state topic for a reader.
func (Topics) ReaderState(readerID int) string {
	return fmt.Sprintf("%s/reader/%d/state", TopicRoot, readerID)
}

// ReaderEvent returns the card scan topic for a reader.
func (Topics) ReaderEvent(readerID int) string {
	return fmt.Sprintf("%s/reader/%d/event", TopicRoot, readerID)
}

// ReaderCapacity returns the retained occupancy topic for a reader.
func (Topics) ReaderCapacity(readerID int) string {
	return fmt.Sprintf("%s/reader/%d/capacity", TopicRoot, readerID)
}

// ReaderCommand returns the inbound command topic for a reader.
func (Topics) ReaderCommand(readerID int) string {
	return fmt.Sprintf("%s/command/reader/%d", TopicRoot, readerID)
}

// AllReaderCommands matches ReaderCommand for every reader.
func (Topics) AllReaderCommands() string {
	return TopicRoot + "/command/reader/+"
}

// SiteCommand returns the inbound site-wide command topic.
func (Topics) SiteCommand() string {
	return TopicRoot + "/command/site"
}

// CommandAck returns the topic command results are published on.
func (Topics) CommandAck() string {
	return TopicRoot + "/command/ack"
}

// ParseReaderCommand extracts the reader ID from a ReaderCommand topic.
func (Topics) ParseReaderCommand(topic string) (int, error) {
	prefix := TopicRoot + "/command/reader/"
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, fmt.Errorf("%w: %q is not a reader command topic", ErrInvalidTopic, topic)
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad reader id in %q", ErrInvalidTopic, topic)
	}
	return id, nil
}
