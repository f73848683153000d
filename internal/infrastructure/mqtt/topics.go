package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MQTT 3.1.1 topic limits.
const (
	// maxTopicLength is the maximum encoded length of a topic name.
	maxTopicLength = 65535

	// singleLevelWildcard and multiLevelWildcard are the MQTT filter wildcards.
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// ValidateTopic checks that topic is usable both as a publish topic and as
// an exact-match subscription filter.
//
// Wildcards are rejected: a Conn compares incoming message topics against the
// requested topic byte for byte, so a filter such as "devices/+" could be
// subscribed but would never satisfy a wait.
//
// Returns:
//   - error: ErrInvalidTopic (wrapped with the reason) or nil
func ValidateTopic(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	case len(topic) > maxTopicLength:
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	case !utf8.ValidString(topic):
		return fmt.Errorf("%w: topic is not valid UTF-8", ErrInvalidTopic)
	case strings.ContainsRune(topic, 0):
		return fmt.Errorf("%w: topic contains a NUL character", ErrInvalidTopic)
	case strings.Contains(topic, singleLevelWildcard), strings.Contains(topic, multiLevelWildcard):
		return fmt.Errorf("%w: wildcards are not supported in %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateQoS checks that qos is 0, 1 or 2.
func ValidateQoS(qos byte) error {
	if qos > maxQoS {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}
	return nil
}
