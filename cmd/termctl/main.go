package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/antonkrylov/termhost/internal/client"
	"github.com/antonkrylov/termhost/internal/config"
)

var version = "dev"

type rootOptions struct {
	addr        string
	timeout     time.Duration
	configPath  string
	contextName string
	gzip        bool

	conn *client.Connection
}

func (r *rootOptions) prepare() error {
	resolved, err := client.ResolveConnection(r.configPath, r.contextName, r.addr, r.timeout)
	if err != nil {
		return err
	}
	r.conn = resolved
	return nil
}

func (r *rootOptions) dial(ctx context.Context) (*grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.conn.Timeout)
	defer cancel()
	var opts []grpc.DialOption
	if r.gzip {
		opts = append(opts, client.WithGzip())
	}
	conn, err := client.Dial(dialCtx, r.conn.Addr, r.conn.Mode(), opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.conn.Addr, err)
	}
	return conn, nil
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "termctl",
		Short:         "Client for termhostd persistent terminals",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := os.Getenv("TERMHOST_CONFIG")
	if defaultConfig == "" {
		defaultConfig = config.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to termhost config file (default $HOME/.termhost/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.contextName, "context", "", "context name within the config (overrides currentContext)")
	rootCmd.PersistentFlags().StringVar(&opts.addr, "addr", "", "termhostd gRPC endpoint (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "dial and call timeout; defaults to config or 15s")
	rootCmd.PersistentFlags().BoolVar(&opts.gzip, "gzip", false, "gzip-compress messages on the wire")
	rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return opts.prepare()
	}

	rootCmd.AddCommand(newAttachCmd(opts))
	rootCmd.AddCommand(newServicesCmd(opts))
	rootCmd.AddCommand(newPingCmd(opts))
	rootCmd.AddCommand(newVersionCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newServicesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List terminal services on the host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), root.conn.Timeout)
			defer cancel()
			conn, err := root.dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			list, err := client.NewControl(conn).ListServices(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tPERSISTENT\tTERMINALS\tCREATED\tLAST ACTIVITY")
			for _, svc := range list.Services {
				fmt.Fprintf(w, "%s\t%t\t%d\t%s\t%s\n",
					svc.ServiceID,
					svc.Persistent,
					svc.TerminalCount,
					time.Unix(svc.CreatedUnix, 0).Format(time.RFC3339),
					time.Unix(svc.LastActivityUnix, 0).Format(time.RFC3339),
				)
			}
			return w.Flush()
		},
	}
}

func newPingCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping [message]",
		Short: "Check that termhostd answers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := "ping"
			if len(args) == 1 {
				message = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.conn.Timeout)
			defer cancel()
			conn, err := root.dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			reply, rtt, err := client.NewControl(conn).Ping(ctx, message)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s from %s in %s\n", reply.Message, root.conn.Addr, rtt.Round(time.Microsecond))
			return nil
		},
	}
}

func newVersionCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the termhostd build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), root.conn.Timeout)
			defer cancel()
			conn, err := root.dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			v, err := client.NewControl(conn).Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "termhostd %s (commit %s, built %s, %s)\n", v.Version, v.Commit, v.BuildTime, v.GoVersion)
			return nil
		},
	}
}
