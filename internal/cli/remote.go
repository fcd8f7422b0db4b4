package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://127.0.0.1:8080"

type remoteFlags struct {
	server  string
	timeout time.Duration
}

// newRemoteCommand regroupe les appels à un vulcan-server. Les réponses JSON
// sont réindentées; un statut HTTP >= 400 est une erreur.
func newRemoteCommand(o *options) *cobra.Command {
	f := &remoteFlags{}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query a running vulcan-server",
	}
	cmd.PersistentFlags().StringVar(&f.server, "server", envOr("VULCAN_SERVER_URL", defaultServerURL), "server base URL")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", 10*time.Second, "HTTP timeout")

	get := func(use, short string, path func(args []string) string, nargs int) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(nargs),
			RunE: func(cmd *cobra.Command, args []string) error {
				return f.do(cmd, http.MethodGet, path(args), nil)
			},
		}
	}
	post := func(use, short string, path func(args []string) string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return f.do(cmd, http.MethodPost, path(args), nil)
			},
		}
	}
	fixed := func(p string) func([]string) string { return func([]string) string { return p } }
	withID := func(format string) func([]string) string {
		return func(args []string) string { return fmt.Sprintf(format, url.PathEscape(args[0])) }
	}

	cmd.AddCommand(
		get("health", "Server health", fixed("/health"), 0),
		get("version", "Server build information", fixed("/version"), 0),
		get("schedules", "List schedules", fixed("/schedules"), 0),
		get("schedule <id>", "Show a schedule", withID("/schedules/%s"), 1),
		get("status <id>", "Execution progress of a schedule", withID("/schedules/%s/status"), 1),
		get("queue", "Active jobs in priority order", fixed("/jobs/queue"), 0),
		post("publish <id>", "Publish a draft schedule", withID("/schedules/%s/publish")),
		post("execute <id>", "Start executing a published schedule", withID("/schedules/%s/execute")),
		newSubmitCommand(f),
		newWatchCommand(f),
	)
	return cmd
}

// newSubmitCommand envoie les jobs d'un fichier JSON (tableau de jobs).
func newSubmitCommand(f *remoteFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit -f jobs.json",
		Short: "Create jobs on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var jobs []json.RawMessage
			if err := json.Unmarshal(b, &jobs); err != nil {
				return fmt.Errorf("%s: expected a JSON array of jobs: %w", file, err)
			}
			for _, j := range jobs {
				if err := f.do(cmd, http.MethodPost, "/jobs", j); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file holding an array of jobs")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (f *remoteFlags) do(cmd *cobra.Command, method, path string, body []byte) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), method, f.server+"/api/v1"+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: f.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	var pretty any
	if err := json.Unmarshal(b, &pretty); err == nil {
		if err := writeJSON(out, pretty); err != nil {
			return err
		}
	} else {
		out.Write(b)
		fmt.Fprintln(out)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
