package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every graysql topic.
//
// Hierarchy:
//
//	graysql/request/{command}/{request_id}   caller -> graysql
//	graysql/response/{request_id}            graysql -> caller
//	graysql/system/status                    retained online/offline status
const TopicPrefix = "graysql"

// Topics provides builders for graysql MQTT topics.
// Using these helpers keeps topic naming consistent between server and callers.
type Topics struct{}

// Request returns the topic a caller publishes a command request on.
//
// Example: graysql/request/select/req-abc123
func (Topics) Request(command, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, command, requestID)
}

// Response returns the topic the reply to requestID is published on.
//
// Example: graysql/response/req-abc123
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefix, requestID)
}

// SystemStatus returns the retained status topic.
//
// Example: graysql/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllRequests returns a pattern matching every command request.
//
// Pattern: graysql/request/+/+
func (Topics) AllRequests() string {
	return TopicPrefix + "/request/+/+"
}

// ParseRequest splits a request topic into its command and request id.
func (Topics) ParseRequest(topic string) (command, requestID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "request" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
