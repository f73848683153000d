// Package tools exposes MQTT publish and receive as MCP tools.
//
// Service runs each call on a fresh connection from the mqtt package,
// closes it afterwards, and reports the call to the audit log and
// telemetry. NewServer registers the Service with an mcp-go server as
// the publish_message and receive_message tools, plus the mqtt_help and
// mqtt_error prompts.
//
// Tool failures are returned to the MCP client as error results carrying
// the error text, so the model can decide whether to retry.
package tools
