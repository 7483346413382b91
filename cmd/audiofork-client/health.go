package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newHealthCmd(conn *connectionFlags) *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the gateway health service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := conn.dial(false)
			if err != nil {
				return err
			}
			defer cc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), conn.timeout)
			defer cancel()

			resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("gateway is %s", resp.GetStatus())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "Service name to check, empty for the whole server")
	return cmd
}
