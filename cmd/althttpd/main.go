// Package main wires the CLI surface of spec §6 onto the pipeline,
// listener, boot and metrics packages. The root-command-with-flags shape,
// and modeling a one-shot diagnostic (--datetest) as a pre-run check rather
// than a subcommand, is grounded on caddyserver-caddy/cmd/cobra.go and
// cmd/main.go's single root *cobra.Command built from a factory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hoekit/althttpd/internal/accesslog"
	"github.com/hoekit/althttpd/internal/applog"
	"github.com/hoekit/althttpd/internal/boot"
	"github.com/hoekit/althttpd/internal/config"
	"github.com/hoekit/althttpd/internal/listener"
	"github.com/hoekit/althttpd/internal/metrics"
	"github.com/hoekit/althttpd/internal/pipeline"
	"github.com/hoekit/althttpd/internal/sanitize"
	"github.com/hoekit/althttpd/internal/vhost"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "althttpd",
	Short: "A small process-per-connection HTTP/1.1 content server",
	Long: `althttpd serves static files, CGI scripts and SCGI backends from a
content root, either from an already-connected stdin/stdout socket (super-
server mode) or bound to a TCP port (standalone mode, enabled by --port).`,
	SilenceUsage: true,
	RunE:         run,
}

var (
	family   string
	https    bool
	datetest bool
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Root, "root", "", "content root directory (required)")
	flags.IntVar(&cfg.Port, "port", 0, "TCP port to bind; 0 runs in super-server (stdin/stdout) mode")
	flags.StringVar(&cfg.User, "user", "", "drop privileges to this user after boot")
	flags.StringVar(&cfg.LogFile, "logfile", "", "CSV access log path (may contain %Y/%m/%d/%H/%M/%S)")
	flags.BoolVar(&https, "https", false, "requests are understood to have arrived over HTTPS")
	flags.StringVar(&family, "family", "any", "address family to bind in standalone mode: any|ipv4|ipv6")
	flags.BoolVar(&cfg.Jail, "jail", false, "chroot into --root before dropping privileges")
	flags.IntVar(&cfg.MaxAge, "max-age", config.DefaultMaxAge, "Cache-Control max-age for static responses, in seconds")
	flags.IntVar(&cfg.MaxCPUSeconds, "max-cpu", config.DefaultMaxCPUSeconds, "per-connection CPU rlimit, in seconds; 0 disables")
	flags.BoolVar(&cfg.Debug, "debug", false, "disable all timeouts (development only)")
	flags.StringVar(&cfg.InputFile, "input", "", "replay a request from this file instead of stdin, for tests")
	flags.BoolVar(&datetest, "datetest", false, "run the RFC822 date round-trip self-test and exit")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "if set, expose Prometheus metrics on this address")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if datetest {
		return runDateTest()
	}

	cfg.HTTPS = https
	switch family {
	case "ipv4":
		cfg.Family = config.FamilyIPv4
	case "ipv6":
		cfg.Family = config.FamilyIPv6
	default:
		cfg.Family = config.FamilyAny
	}
	cfg.Standalone = cfg.Port != 0
	cfg.BlockedUserAgents = config.DefaultBlockedUserAgents
	cfg.BlockedReferrers = config.DefaultBlockedReferrers

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := vhost.CheckRoot(cfg.Root, cfg.Standalone); err != nil {
		return err
	}

	log, err := applog.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	if err := boot.Drop(&cfg, log); err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	accessLog := accesslog.New(cfg.LogFile)
	p := pipeline.New(&cfg, accessLog, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Warn("metrics listener exited", zap.Error(err))
			}
		}()
	}

	if !cfg.Standalone {
		return serveOnce(&cfg, p, log)
	}

	log.Info("starting standalone listener",
		zap.String("root", cfg.Root),
		zap.Int("port", cfg.Port),
		zap.String("max_content_length", humanize.Bytes(config.MaxContentLength)))

	l := listener.New(p.Serve, log)
	return l.Run(ctx, &cfg)
}

// serveOnce implements super-server mode: the process is already connected
// to exactly one peer on stdin/stdout (spec §1), or, with --input, replays a
// captured request from a file for testing.
func serveOnce(cfg *config.Config, p *pipeline.Pipeline, log *zap.Logger) error {
	if cfg.InputFile == "" {
		p.Serve(stdioConn{})
		return nil
	}

	f, err := os.Open(cfg.InputFile)
	if err != nil {
		return fmt.Errorf("opening --input file: %w", err)
	}
	defer f.Close()

	log.Info("replaying request from file", zap.String("input", cfg.InputFile))
	p.Serve(fileConn{ReadCloser: f, out: os.Stdout})
	return nil
}

// runDateTest implements --datetest: a deterministic round-trip check of
// the RFC822 date formatter/parser over a stride-127 sample of the Unix
// epoch across [0, 2^31), per spec §8.
func runDateTest() error {
	const stride = 127
	const limit = 1 << 31
	for i := int64(0); i < limit; i += stride {
		ts := i
		formatted := sanitize.Rfc822Date(ts)
		parsed, ok := sanitize.ParseRfc822Date(formatted)
		if !ok {
			return fmt.Errorf("datetest: %q did not parse", formatted)
		}
		if parsed != ts {
			return fmt.Errorf("datetest: round-trip mismatch at %d: got %d", ts, parsed)
		}
	}
	fmt.Println("datetest: ok")
	return nil
}
