package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool and prompt names exposed to MCP clients.
const (
	ToolPublish    = "publish_message"
	ToolReceive    = "receive_message"
	PromptHelp     = "mqtt_help"
	PromptError    = "mqtt_error"
	serverInstruct = "Publish to and receive from MQTT topics. Each call uses its own broker connection."
)

// NewServer creates an MCP server exposing svc as tools and prompts.
func NewServer(name, version string, svc *Service) *server.MCPServer {
	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithPromptCapabilities(true),
		server.WithInstructions(serverInstruct),
		server.WithRecovery(),
	)

	h := &handlers{svc: svc}

	s.AddTool(mcp.NewTool(ToolPublish,
		mcp.WithDescription("Publishes data to the specified MQTT topic."),
		mcp.WithString("data",
			mcp.Required(),
			mcp.Description("Payload to publish, sent as UTF-8 text"),
		),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Exact topic name; wildcards are not allowed"),
		),
		mcp.WithString("host",
			mcp.Description("Broker host (default: configured broker)"),
		),
		mcp.WithNumber("port",
			mcp.Description("Broker port (default: configured broker)"),
		),
		mcp.WithNumber("qos",
			mcp.Description("Quality of service level 0, 1 or 2"),
			mcp.DefaultNumber(float64(svc.DefaultQoS())),
			mcp.Min(0),
			mcp.Max(2),
		),
	), h.publish)

	s.AddTool(mcp.NewTool(ToolReceive,
		mcp.WithDescription("Waits for the next message on the specified MQTT topic and returns its payload."),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Exact topic name; wildcards are not allowed"),
		),
		mcp.WithString("host",
			mcp.Description("Broker host (default: configured broker)"),
		),
		mcp.WithNumber("port",
			mcp.Description("Broker port (default: configured broker)"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Seconds to wait for a message"),
			mcp.DefaultNumber(svc.DefaultReceiveTimeout().Seconds()),
			mcp.Min(0),
		),
		mcp.WithNumber("qos",
			mcp.Description("Quality of service level 0, 1 or 2"),
			mcp.DefaultNumber(float64(svc.DefaultQoS())),
			mcp.Min(0),
			mcp.Max(2),
		),
	), h.receive)

	s.AddPrompt(mcp.NewPrompt(PromptHelp,
		mcp.WithPromptDescription("Provides examples of how to use the MQTT MCP server."),
	), helpPrompt)

	s.AddPrompt(mcp.NewPrompt(PromptError,
		mcp.WithPromptDescription("Asks the user how to handle an error."),
		mcp.WithArgument("error",
			mcp.ArgumentDescription("The error message to report"),
		),
	), errorPrompt)

	return s
}

type handlers struct {
	svc *Service
}

func (h *handlers) publish(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := req.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := req.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	qos, err := qosArg(req, h.svc.DefaultQoS())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text, err := h.svc.Publish(ctx, PublishRequest{
		Topic: topic,
		Data:  data,
		Host:  req.GetString("host", ""),
		Port:  req.GetInt("port", 0),
		QoS:   qos,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (h *handlers) receive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := req.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	qos, err := qosArg(req, h.svc.DefaultQoS())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	seconds := req.GetFloat("timeout", h.svc.DefaultReceiveTimeout().Seconds())
	if seconds < 0 {
		return mcp.NewToolResultError(fmt.Sprintf("timeout must not be negative, got %v", seconds)), nil
	}

	payload, err := h.svc.Receive(ctx, ReceiveRequest{
		Topic:   topic,
		Host:    req.GetString("host", ""),
		Port:    req.GetInt("port", 0),
		Timeout: time.Duration(seconds * float64(time.Second)),
		QoS:     qos,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(payload), nil
}

// qosArg reads the optional qos argument.
func qosArg(req mcp.CallToolRequest, def byte) (byte, error) {
	qos := req.GetInt("qos", int(def))
	if qos < 0 || qos > 2 {
		return 0, fmt.Errorf("qos must be 0, 1 or 2, got %d", qos)
	}
	return byte(qos), nil
}

func helpPrompt(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return mcp.NewGetPromptResult(
		"How to use the MQTT MCP server",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(helpText)),
		},
	), nil
}

const helpText = `This server talks to an MQTT broker with two tools.

publish_message sends one message:
  {"topic": "devices/lamp/set", "data": "{\"on\": true}"}
  {"topic": "devices/lamp/set", "data": "off", "host": "10.0.0.5", "port": 1883, "qos": 0}

receive_message waits for the next message on one topic and returns its payload:
  {"topic": "devices/lamp/state"}
  {"topic": "devices/lamp/state", "timeout": 10, "qos": 1}

Topics are exact names; "+" and "#" wildcards are rejected.
Host and port default to the configured broker, qos defaults to 1 and the
receive timeout defaults to 60 seconds. Every call opens and closes its own
connection, so start receive_message before the message is published.`

func errorPrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	msg := req.Params.Arguments["error"]
	if msg == "" {
		return mcp.NewGetPromptResult("No error reported", []mcp.PromptMessage{}), nil
	}

	return mcp.NewGetPromptResult(
		"Ask how to handle an MQTT error",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(fmt.Sprintf("ERROR: %q", msg))),
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent("Would you like to retry, change parameters, or abort?")),
		},
	), nil
}
