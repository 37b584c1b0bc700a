package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	internalgrpc "github.com/mr1hm/gnss-integrity-monitor/internal/grpc"
)

func newWatchCmd(opts *options) *cobra.Command {
	var (
		addr     string
		group    string
		minLevel string
		latest   bool
		changes  bool
		count    int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream published statuses from a running monitor, one JSON object per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var level string
			if minLevel != "" {
				l, err := parseLevel("min-level", minLevel)
				if err != nil {
					return err
				}
				level = string(l)
			}
			if addr == "" {
				addr = fmt.Sprintf("localhost:%d", opts.cfg.GRPC.Port)
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			ctx := cmd.Context()
			recv, err := internalgrpc.NewClient(conn).StreamStatus(ctx, &internalgrpc.StreamRequest{
				Group:       group,
				MinLevel:    level,
				SendLatest:  latest,
				ChangesOnly: changes,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for n := 0; count <= 0 || n < count; n++ {
				st, err := recv.Recv()
				if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled && ctx.Err() != nil {
					return nil
				}
				if err != nil {
					return err
				}
				if err := enc.Encode(st); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Monitor gRPC address (default localhost:GRPC_PORT)")
	cmd.Flags().StringVar(&group, "group", "", "Only statuses for this constellation group")
	cmd.Flags().StringVar(&minLevel, "min-level", "", "Only statuses at or above this level")
	cmd.Flags().BoolVar(&latest, "latest", false, "Start with the most recent status")
	cmd.Flags().BoolVar(&changes, "changes", false, "Only statuses whose level differs from the group's previous one")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many statuses (0 streams until interrupted)")
	return cmd
}
