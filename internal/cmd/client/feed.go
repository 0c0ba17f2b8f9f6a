package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewFeedCommand constructs the `feed` command group and subcommands.
func NewFeedCommand(baseURL BaseURLFunc) *cobra.Command {
	feedCmd := &cobra.Command{Use: "feed", Short: "Feed operations"}
	feedCmd.AddCommand(
		newFeedPublishCommand(baseURL),
		newFeedReadCommand(baseURL),
		newFeedTailCommand(baseURL),
	)
	return feedCmd
}

// newFeedPublishCommand constructs the `feed publish` subcommand.
func newFeedPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one record to a feed key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			payload, _ := cmd.Flags().GetString("payload")
			headerPairs, _ := cmd.Flags().GetStringSlice("header")
			idem, _ := cmd.Flags().GetString("idempotency-key")

			headers := map[string]string{}
			for _, p := range headerPairs {
				k, v, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("invalid --header %q; expected k=v", p)
				}
				headers[k] = v
			}
			if idem != "" {
				headers["idempotencyKey"] = idem
			}

			body, _ := json.Marshal(map[string]any{
				"key":     key,
				"payload": []byte(payload),
				"headers": headers,
			})
			resp, err := http.Post(baseURL()+"/v1/feeds/publish", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return statusError(resp)
			}
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
	publishCmd.Flags().StringP("key", "k", "", "Feed key")
	publishCmd.Flags().StringP("payload", "p", "", "Record payload")
	publishCmd.Flags().StringSlice("header", nil, "Record header k=v (repeatable)")
	publishCmd.Flags().String("idempotency-key", "", "Idempotency key for publish dedup")
	return publishCmd
}

// newFeedReadCommand constructs the `feed read` subcommand.
func newFeedReadCommand(baseURL BaseURLFunc) *cobra.Command {
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read a page of records from a feed key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			from, _ := cmd.Flags().GetString("from")
			at, _ := cmd.Flags().GetString("at")
			limit, _ := cmd.Flags().GetInt("limit")

			q := url.Values{}
			q.Set("key", key)
			if from != "" {
				q.Set("from", from)
			}
			if at != "" {
				q.Set("at", at)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprintf("%d", limit))
			}
			resp, err := http.Get(baseURL() + "/v1/feeds/read?" + q.Encode())
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return statusError(resp)
			}
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
	readCmd.Flags().StringP("key", "k", "", "Feed key")
	readCmd.Flags().String("from", "", "Start cursor (hex)")
	readCmd.Flags().String("at", "", "Start at timestamp: RFC3339 or ms")
	readCmd.Flags().Int("limit", 100, "Max records to return")
	return readCmd
}

// newFeedTailCommand constructs the `feed tail` subcommand: it consumes the
// SSE subscribe endpoint and prints one JSON record per line.
func newFeedTailCommand(baseURL BaseURLFunc) *cobra.Command {
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail a feed key live",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			from, _ := cmd.Flags().GetString("from")
			at, _ := cmd.Flags().GetString("at")
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")

			q := url.Values{}
			q.Set("key", key)
			if from != "" {
				q.Set("from", from)
			}
			if at != "" {
				q.Set("at", at)
			}
			if filter != "" {
				q.Set("filter", filter)
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				baseURL()+"/v1/feeds/subscribe?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return statusError(resp)
			}

			out := cmd.OutOrStdout()
			seen := 0
			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				if _, err := fmt.Fprintln(out, strings.TrimPrefix(line, "data: ")); err != nil {
					return err
				}
				seen++
				if limit > 0 && seen >= limit {
					return nil
				}
			}
			return scanner.Err()
		},
	}
	tailCmd.Flags().StringP("key", "k", "", "Feed key")
	tailCmd.Flags().String("from", "", "Start cursor (hex)")
	tailCmd.Flags().String("at", "", "Start at timestamp: RFC3339 or ms")
	tailCmd.Flags().String("filter", "", "CEL filter (server-side)")
	tailCmd.Flags().Int("limit", 0, "Stop after N records (0 = infinite)")
	return tailCmd
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, msg)
}
