package hub

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	methodRequestPrefix = "$iothub/methods/POST/"
	twinResponsePrefix  = "$iothub/twin/res/"
	desiredPatchPrefix  = "$iothub/twin/PATCH/properties/desired/"

	twinGetTopicFmt        = "$iothub/twin/GET/?$rid=%s"
	reportedTopicFmt       = "$iothub/twin/PATCH/properties/reported/?$rid=%s"
	methodResponseTopicFmt = "$iothub/methods/res/%d/?$rid=%s"
	eventsTopicFmt         = "devices/%s/messages/events/"
)

func subscriptions(deviceID string) []string {
	return []string{
		fmt.Sprintf("devices/%s/messages/events/#", deviceID),
		fmt.Sprintf("devices/%s/messages/devicebound/#", deviceID),
		desiredPatchPrefix + "#",
		twinResponsePrefix + "#",
		methodRequestPrefix + "#",
	}
}

// splitTopic separates a topic of the form <path>/?<query> and returns the
// path segments after prefix and the parsed query.
func splitTopic(topic, prefix string) (string, url.Values, bool) {
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", nil, false
	}
	path, query, _ := strings.Cut(rest, "?")
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", nil, false
	}
	return strings.TrimSuffix(path, "/"), values, true
}

// parseMethodTopic extracts the method name and request id from
// $iothub/methods/POST/<name>/?$rid=<rid>.
func parseMethodTopic(topic string) (name, rid string, ok bool) {
	path, values, ok := splitTopic(topic, methodRequestPrefix)
	if !ok || path == "" || strings.Contains(path, "/") {
		return "", "", false
	}
	rid = values.Get("$rid")
	if rid == "" {
		return "", "", false
	}
	return path, rid, true
}

// parseTwinResponseTopic extracts the status and request id from
// $iothub/twin/res/<status>/?$rid=<rid>&$version=<v>.
func parseTwinResponseTopic(topic string) (status, rid string, ok bool) {
	path, values, ok := splitTopic(topic, twinResponsePrefix)
	if !ok || path == "" {
		return "", "", false
	}
	return path, values.Get("$rid"), true
}
