package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqtt-mcp/internal/tools"
)

func newReceiveCmd(flags *globalFlags) *cobra.Command {
	var (
		broker  brokerFlags
		topic   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for one message on a topic and print its payload",
		Example: `  mqtt-mcp receive --topic sensors/temp
  mqtt-mcp receive --topic sensors/temp --timeout 5s --qos 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			if timeout < 0 {
				return fmt.Errorf("--timeout must not be negative")
			}

			return withCLIStack(cmd.Context(), cfg, log, func(st *stack) error {
				qos, err := broker.resolveQoS(st.service)
				if err != nil {
					return err
				}

				payload, err := st.service.Receive(cmd.Context(), tools.ReceiveRequest{
					Topic:   topic,
					Host:    broker.host,
					Port:    broker.port,
					Timeout: timeout,
					QoS:     qos,
				})
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), payload)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to subscribe to")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for a message (default mqtt.receive_timeout)")
	broker.register(cmd)
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}
