package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pscheid92/marketpulse/internal/adapter/postgres"
	"github.com/pscheid92/marketpulse/internal/adapter/redis"
	"github.com/spf13/cobra"
)

type publishOptions struct {
	addr        string
	token       string
	topic       string
	redisURL    string
	redisPrefix string
	databaseURL string
	pgChannel   string
}

func newPublishCmd() *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish <channel> <json-payload>",
		Short: "Publish one event over HTTP, Redis or Postgres NOTIFY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage(args[1])
			if !json.Valid(payload) {
				return errors.New("payload must be valid JSON")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			switch {
			case opts.redisURL != "":
				rdb, err := redis.NewClient(ctx, opts.redisURL, nil)
				if err != nil {
					return err
				}
				defer func() { _ = rdb.Close() }()
				return redis.Publish(ctx, rdb, opts.redisPrefix, args[0], opts.topic, payload)
			case opts.databaseURL != "":
				pool, err := postgres.Connect(ctx, opts.databaseURL, nil)
				if err != nil {
					return err
				}
				defer pool.Close()
				return postgres.Notify(ctx, pool, opts.pgChannel, args[0], opts.topic, payload)
			default:
				out, err := publishHTTP(ctx, http.DefaultClient, opts, args[0], payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "http://localhost:8080", "base URL of the server")
	f.StringVar(&opts.token, "token", "", "bearer token for the publish endpoint")
	f.StringVar(&opts.topic, "topic", "", "event topic")
	f.StringVar(&opts.redisURL, "redis-url", "", "publish through Redis instead of HTTP")
	f.StringVar(&opts.redisPrefix, "redis-prefix", "marketpulse", "Redis channel prefix")
	f.StringVar(&opts.databaseURL, "database-url", "", "publish through Postgres NOTIFY instead of HTTP")
	f.StringVar(&opts.pgChannel, "pg-channel", "marketpulse_events", "Postgres NOTIFY channel")
	cmd.MarkFlagsMutuallyExclusive("redis-url", "database-url")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

// publishHTTP posts the event and returns the server's JSON answer.
func publishHTTP(ctx context.Context, client *http.Client, opts publishOptions, channel string, payload json.RawMessage) (string, error) {
	body, err := json.Marshal(map[string]any{"topic": opts.topic, "payload": payload})
	if err != nil {
		return "", fmt.Errorf("marshal publish request: %w", err)
	}

	target := strings.TrimRight(opts.addr, "/") + "/publish/" + url.PathEscape(channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read publish response: %w", err)
	}
	answer := strings.TrimSpace(string(out))
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("publish rejected with %d: %s", resp.StatusCode, answer)
	}
	return answer, nil
}
