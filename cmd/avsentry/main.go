package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/ipsix/avsentry/internal/cli"
	"github.com/ipsix/avsentry/internal/config"
	"github.com/ipsix/avsentry/internal/daemon"
	"github.com/ipsix/avsentry/internal/logging"
	"github.com/ipsix/avsentry/internal/records"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "ctl" {
		runCTL(os.Args[2:])
		return
	}

	configPath := flag.String("config", "", "Path to optional JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("config error: " + err.Error())
	}

	logger, err := logging.New(cfg.Daemon.LogLevel, cfg.Daemon.LogFormat)
	if err != nil {
		fail("logging error: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Infow("avsentry starting", "config", cfg.Redacted())

	runner := daemon.New(cfg, logger)
	if err := runner.Run(context.Background()); err != nil {
		logger.Errorw("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func runCTL(args []string) {
	fs := flag.NewFlagSet("ctl", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8788", "API base URL")
	token := fs.String("token", "", "API token (or set AVSENTRY_CTL_TOKEN)")
	configPath := fs.String("config", "", "Config path for validate/storage-check")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		usageCTL()
		os.Exit(2)
	}

	if *token == "" {
		*token = os.Getenv("AVSENTRY_CTL_TOKEN")
	}

	ctx := context.Background()
	switch fs.Arg(0) {
	case "validate":
		if _, err := config.Load(*configPath); err != nil {
			fail("ctl error: " + err.Error())
		}
		ok(`{"status":"ok"}`)
	case "storage-check":
		cfg, err := config.Load(*configPath)
		if err != nil {
			fail("ctl error: " + err.Error())
		}
		store, err := records.OpenBadger(cfg.Storage.DBPath, cfg.Storage.EncryptionKeyBase64)
		if err != nil {
			fail("ctl error: " + err.Error())
		}
		if err := store.Close(); err != nil {
			fail("ctl error: " + err.Error())
		}
		ok(`{"status":"ok"}`)
	case "health", "status":
		client := cli.NewClient(*addr, *token)
		raw, err := client.Get(ctx, "/"+fs.Arg(0))
		if err != nil {
			fail("ctl error: " + err.Error())
		}
		ok(string(raw))
	default:
		usageCTL()
		os.Exit(2)
	}
}

func usageCTL() {
	usage := []string{
		"Usage: avsentry ctl [flags] <command>",
		"",
		"Commands:",
		"  validate       parse and validate the configuration",
		"  storage-check  open and close the local record store",
		"  health         liveness of a running worker",
		"  status         status snapshot of a running worker",
		"",
		"Flags:",
		"  -addr http://127.0.0.1:8788",
		"  -token <token> (or AVSENTRY_CTL_TOKEN)",
		"  -config <path> (for validate/storage-check)",
	}
	_, _ = os.Stderr.WriteString(strings.Join(usage, "\n") + "\n")
}

func ok(msg string) {
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	_, _ = os.Stdout.WriteString(msg)
}

func fail(msg string) {
	_, _ = os.Stderr.WriteString(msg + "\n")
	os.Exit(1)
}
