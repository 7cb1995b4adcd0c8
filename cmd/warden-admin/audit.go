// ABOUTME: Audit log command for the admin CLI
// ABOUTME: Lists audit entries with optional actor and action filters

package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	auditActor  string
	auditAction string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read the audit log (newest first)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		if auditActor != "" {
			q.Set("actor", auditActor)
		}
		if auditAction != "" {
			q.Set("action", auditAction)
		}
		path := "/v1/admin/audit"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp struct {
			Entries []struct {
				Actor      string `json:"actor"`
				Action     string `json:"action"`
				TargetType string `json:"target_type"`
				TargetID   string `json:"target_id"`
				Timestamp  string `json:"timestamp"`
			} `json:"entries"`
		}
		if err := client.do(http.MethodGet, path, nil, &resp); err != nil {
			return err
		}

		if len(resp.Entries) == 0 {
			fmt.Println("no audit entries")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTOR\tACTION\tTARGET")
		for _, e := range resp.Entries {
			ts := e.Timestamp
			if parsed, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
				ts = parsed.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\n", ts, e.Actor, e.Action, e.TargetType, e.TargetID)
		}
		return w.Flush()
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditActor, "actor", "", "Filter by actor")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action")
	rootCmd.AddCommand(auditCmd)
}
