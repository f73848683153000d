package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-mcp/internal/tools"
)

// brokerFlags override the configured broker for one-shot commands.
type brokerFlags struct {
	host string
	port int
	qos  int
}

func (b *brokerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.host, "host", "", "Broker host (default mqtt.broker.host)")
	cmd.Flags().IntVar(&b.port, "port", 0, "Broker port (default mqtt.broker.port)")
	cmd.Flags().IntVar(&b.qos, "qos", -1, "Quality of service 0, 1 or 2 (default mqtt.qos)")
}

// resolveQoS returns the flag value, or the service default when unset.
func (b *brokerFlags) resolveQoS(svc *tools.Service) (byte, error) {
	if b.qos < 0 {
		return svc.DefaultQoS(), nil
	}
	if b.qos > 2 {
		return 0, fmt.Errorf("--qos must be 0, 1 or 2, got %d", b.qos)
	}
	return byte(b.qos), nil //nolint:gosec // range checked above
}

// withCLIStack builds a stack tagged as cli, runs fn and tears it down.
func withCLIStack(ctx context.Context, cfg *config.Config, log *logging.Logger, fn func(*stack) error) error {
	st, err := buildStack(ctx, cfg, log, stackOptions{source: "cli"})
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func newPublishCmd(flags *globalFlags) *cobra.Command {
	var (
		broker brokerFlags
		topic  string
		data   string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one message and exit",
		Example: `  mqtt-mcp publish --topic devices/lamp/set --data '{"on":true}'
  mqtt-mcp publish --topic alerts --data hello --host broker.local --qos 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}

			return withCLIStack(cmd.Context(), cfg, log, func(st *stack) error {
				qos, err := broker.resolveQoS(st.service)
				if err != nil {
					return err
				}

				msg, err := st.service.Publish(cmd.Context(), tools.PublishRequest{
					Topic: topic,
					Data:  data,
					Host:  broker.host,
					Port:  broker.port,
					QoS:   qos,
				})
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to publish to")
	cmd.Flags().StringVar(&data, "data", "", "Message payload")
	broker.register(cmd)
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}
