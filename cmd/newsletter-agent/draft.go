package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsletter-agent/internal/agent"
	"github.com/mohammad-safakhou/newsletter-agent/internal/runtime"
	srv "github.com/mohammad-safakhou/newsletter-agent/internal/server"
)

type draftFlags struct {
	request  string
	topic    string
	title    string
	start    string
	end      string
	preset   string
	to       string
	out      string
	showLogs bool
}

func draftCMD(cfgPath *string) *cobra.Command {
	var f draftFlags
	draft := &cobra.Command{
		Use:   "draft",
		Short: "Run the agent once and print the newsletter HTML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := setup(*cfgPath)
			body, err := f.body()
			if err != nil {
				return err
			}
			req, err := agent.ParseRequest(body)
			if err != nil {
				return err
			}

			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()
			rt, err := srv.Build(ctx, cfg, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer rt.Close()

			log := rt.Logs.Create("")
			resp, err := rt.Agent.Run(ctx, req, log)
			if f.showLogs {
				for _, line := range log.DumpPlain() {
					fmt.Fprintln(cmd.ErrOrStderr(), line)
				}
			}
			if err != nil {
				var runErr *agent.RunError
				if errors.As(err, &runErr) {
					return fmt.Errorf("request %s: %w", log.ID(), err)
				}
				return err
			}
			if resp.SendError != "" {
				logger.WithField("req_id", resp.ReqID).Warn("delivery failed: " + resp.SendError)
			}
			if f.out != "" {
				return os.WriteFile(f.out, []byte(resp.HTML), 0o644)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.HTML)
			return err
		},
	}
	draft.Flags().StringVar(&f.request, "request", "", "request JSON file (- for stdin); other flags are ignored when set")
	draft.Flags().StringVar(&f.topic, "topic", "", "newsletter topic")
	draft.Flags().StringVar(&f.title, "title", "", "newsletter title")
	draft.Flags().StringVar(&f.start, "start", "", "start date YYYY-MM-DD")
	draft.Flags().StringVar(&f.end, "end", "", "end date YYYY-MM-DD")
	draft.Flags().StringVar(&f.preset, "preset", "", "color preset")
	draft.Flags().StringVar(&f.to, "to", "", "deliver to this address (disables dry run)")
	draft.Flags().StringVarP(&f.out, "out", "o", "", "write html to file instead of stdout")
	draft.Flags().BoolVar(&f.showLogs, "logs", false, "print request logs to stderr")
	return draft
}

// body returns the request JSON, either read from --request or built from
// the individual flags.
func (f draftFlags) body() ([]byte, error) {
	switch f.request {
	case "":
	case "-":
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(f.request)
	}
	m := map[string]any{"topic": f.topic}
	set := func(k, v string) {
		if strings.TrimSpace(v) != "" {
			m[k] = v
		}
	}
	set("title", f.title)
	set("start_date", f.start)
	set("end_date", f.end)
	set("preset", f.preset)
	if f.to != "" {
		m["to"] = f.to
		m["dryRun"] = false
	}
	return json.Marshal(m)
}
