package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/spf13/cobra"
)

const requestTimeout = 10 * time.Second

func newStatusCmd() *cobra.Command {
	var addr string
	var raw bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print per-channel health of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			st, body, err := fetchStatus(ctx, http.DefaultClient, addr)
			if err != nil {
				return err
			}
			if raw {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "base URL of the server")
	cmd.Flags().BoolVar(&raw, "json", false, "print the raw JSON snapshot")
	return cmd
}

func fetchStatus(ctx context.Context, client *http.Client, addr string) (broadcast.Status, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/status", nil)
	if err != nil {
		return broadcast.Status{}, nil, fmt.Errorf("build status request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return broadcast.Status{}, nil, fmt.Errorf("fetch status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return broadcast.Status{}, nil, fmt.Errorf("read status: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return broadcast.Status{}, nil, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var st broadcast.Status
	if err := json.Unmarshal(body, &st); err != nil {
		return broadcast.Status{}, nil, fmt.Errorf("decode status: %w", err)
	}
	return st, body, nil
}

func printStatus(w io.Writer, st broadcast.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "connections: %d\tshutting down: %t\n\n", st.TotalConnections, st.ShuttingDown)
	fmt.Fprintln(tw, "CHANNEL\tMODE\tCONNS\tPUBLISHED\tSENT\tDROPPED\tQUEUE\tLAST ERROR")
	for _, name := range st.ChannelNames() {
		ch := st.Channels[name]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d/%d\t%s\n",
			name, ch.Policy.Mode, ch.Connections, ch.MessagesPublished, ch.MessagesSent,
			ch.MessagesDropped, ch.QueueDepth, ch.QueueCapacity, ch.LastError)
	}
	return tw.Flush()
}
