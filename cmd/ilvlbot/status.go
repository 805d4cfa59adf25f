package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ilvlbot/internal/config"
	"ilvlbot/internal/memory"
	"ilvlbot/internal/recognizer"
	"ilvlbot/internal/valkeystore"
)

const checkTimeout = 5 * time.Second

// checkReport counts diagnostic outcomes and prints one line per check.
type checkReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *checkReport) pass(name, detail string) {
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", name, detail)
	r.passed++
}

func (r *checkReport) warn(name, detail string) {
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", name, detail)
	r.warned++
}

func (r *checkReport) fail(name, detail string) {
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", name, detail)
	r.failed++
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"doctor"},
		Short:   "Check config, credentials, store and ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("ilvlbot status v%s\n\n", version)

			r := &checkReport{out: os.Stdout}
			runChecks(cmd.Context(), r, cfgPath)

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func runChecks(ctx context.Context, r *checkReport, cfgPath string) {
	if _, err := os.Stat(cfgPath); err != nil {
		r.warn("Config file", fmt.Sprintf("not found at %s, using defaults (run 'ilvlbot init')", cfgPath))
	} else {
		r.pass("Config file", cfgPath)
	}

	cfg, _, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		r.fail("Config validation", err.Error())
		return
	}
	r.pass("Config validation", "valid")

	if err := config.CheckBattleNet(cfg); err != nil {
		r.fail("Battle.net", err.Error())
	} else {
		r.pass("Battle.net", fmt.Sprintf("client configured (region %s)", cfg.BattleNet.Region))
	}

	checkRecognizer(r, cfg)
	checkStore(ctx, r, cfg)
	checkChannels(r, cfg)
}

func checkRecognizer(r *checkReport, cfg *config.Config) {
	mode := cfg.Recognizer.Mode
	if mode == "luis" || mode == "chain" {
		r.pass("Recognizer", fmt.Sprintf("%s (app %s)", mode, cfg.Recognizer.LUIS.AppID))
	} else {
		r.pass("Recognizer", "pattern")
	}
	if mode == "luis" || cfg.Recognizer.IntentsDir == "" {
		return
	}
	defs, err := recognizer.LoadIntents(cfg.Recognizer.IntentsDir, logger)
	switch {
	case err != nil:
		r.fail("Intents", err.Error())
	case len(defs) == 0:
		r.warn("Intents", fmt.Sprintf("no custom intents in %s (builtin only)", cfg.Recognizer.IntentsDir))
	default:
		r.pass("Intents", fmt.Sprintf("%d custom intent(s) in %s", len(defs), cfg.Recognizer.IntentsDir))
	}
}

func checkStore(ctx context.Context, r *checkReport, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	switch cfg.Dialog.Store {
	case "sqlite":
		s, err := memory.NewSQLiteStore(cfg.Dialog.SQLitePath, time.Duration(cfg.Dialog.TTLMinutes)*time.Minute, logger)
		if err != nil {
			r.fail("Dialog store", err.Error())
			return
		}
		defer s.Close()
		n, err := s.ActiveDialogs(ctx)
		if err != nil {
			r.fail("Dialog store", err.Error())
			return
		}
		v, err := s.SchemaVersion(ctx)
		if err != nil {
			r.fail("Dialog store", err.Error())
			return
		}
		r.pass("Dialog store", fmt.Sprintf("sqlite %s (schema v%d, %d suspended)", cfg.Dialog.SQLitePath, v, n))

	case "valkey":
		vc := cfg.Dialog.Valkey
		client, err := valkeystore.NewClient(valkeyClientConfig(vc))
		if err != nil {
			r.fail("Dialog store", err.Error())
			return
		}
		defer client.Close()
		if err := valkeystore.Ping(ctx, client); err != nil {
			r.fail("Dialog store", err.Error())
			return
		}
		r.pass("Dialog store", "valkey "+vc.Addr)

	default:
		r.warn("Dialog store", "memory (suspended dialogs are lost on restart)")
	}
}

func checkChannels(r *checkReport, cfg *config.Config) {
	ch := cfg.Channels
	enabled := 0
	for _, c := range []struct {
		name string
		on   bool
	}{
		{"telegram", ch.Telegram.Enabled},
		{"discord", ch.Discord.Enabled},
		{"slack", ch.Slack.Enabled},
	} {
		if c.on {
			enabled++
			r.pass("Channel: "+c.name, "enabled")
		}
	}
	if ch.Webhook.Enabled {
		enabled++
		checkPort(r, "Webhook port", ch.Webhook.Host, ch.Webhook.Port)
	}
	if ch.WebSocket.Enabled {
		enabled++
		checkPort(r, "WebSocket port", ch.WebSocket.Host, ch.WebSocket.Port)
	}
	if enabled == 0 {
		r.warn("Channels", "no network channels enabled ('ilvlbot chat' still works)")
	}
}

func checkPort(r *checkReport, name, host string, port int) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.warn(name, fmt.Sprintf("%s may be in use: %v", addr, err))
		return
	}
	ln.Close()
	r.pass(name, addr+" available")
}

// printHistory lists the most recent lookups from the SQLite history table.
func printHistory(ctx context.Context, dbPath string, limit int, out io.Writer) error {
	s, err := memory.NewSQLiteStore(dbPath, 0, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.RecentLookups(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No lookups recorded yet.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCHARACTER\tEQUIPPED\tAVERAGE\tERROR")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s@%s (%s)\t%d\t%d\t%s\n",
			rec.CreatedAt.Format(time.DateTime), rec.Name, rec.Realm, rec.Region,
			rec.Equipped, rec.Average, rec.Err)
	}
	return tw.Flush()
}
