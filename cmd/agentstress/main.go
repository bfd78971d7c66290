package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/studiowebux/agentstress/internal/cli"
	"github.com/studiowebux/agentstress/internal/config"
	"github.com/studiowebux/agentstress/internal/validate"
)

var (
	version = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentstress",
	Short: "Agent stress harness - service cycling, traffic and steering validation",
	Long: `agentstress drives a network security agent through repeated service
restarts while generating DNS, UDP, HTTP/S, FTP/FTPS and SFTP traffic, then
checks the agent debug log and served certificates to confirm the traffic
was steered.

Run without a subcommand to start the stress loop with ./config.yaml.

Examples:
  agentstress                               # Stress loop with ./config.yaml
  agentstress run -c lab.yaml --loops 10    # Ten iterations from lab.yaml
  agentstress traffic dns -t example.com -n 500
  agentstress validate -u https://example.com --since 2m
  agentstress cert https://example.com      # Print the served issuer
  agentstress urls check urls.txt -o alive.txt`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the stress loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd)
	},
}

var trafficCmd = &cobra.Command{
	Use:   "traffic <dns|udp|https|ftp|ftps|sftp>",
	Short: "Generate one burst of traffic",
	Long: `Generate traffic for a single protocol and print latency statistics.

At least one of --count or --duration must be set. A duration takes
precedence and --count is then ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTraffic(cmd, args[0])
	},
}

var abCmd = &cobra.Command{
	Use:   "ab <url>",
	Short: "Run ApacheBench against a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAB(cmd, args[0])
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that URLs were steered through the agent",
	Long: `Correlate URLs with the agent debug log, falling back to the certificate
issuer served for each host. Exits non-zero when any URL is not verified.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd)
	},
}

var certCmd = &cobra.Command{
	Use:   "cert <url>",
	Short: "Print the certificate issuer served for a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Cert(cli.CertOptions{
			GlobalOptions: globalOptions(cmd),
			URL:           args[0],
			Port:          certPort,
			Timeout:       certTimeout,
		})
	},
}

var logtailCmd = &cobra.Command{
	Use:   "logtail",
	Short: "Follow the agent debug log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Tail(cli.TailOptions{
			GlobalOptions: globalOptions(cmd),
			LogPath:       tailLog,
			Since:         tailSince,
			Pattern:       tailPattern,
			Regex:         tailRegex,
			Poll:          tailPoll,
		})
	},
}

var urlsCmd = &cobra.Command{
	Use:   "urls",
	Short: "URL list utilities",
}

var urlsCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Keep only URLs that answer a HEAD request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.URLCheck(cli.URLCheckOptions{
			GlobalOptions: globalOptions(cmd),
			File:          args[0],
			KnownFile:     urlsKnown,
			Output:        urlsOutput,
			Concurrency:   urlsConcurrency,
			Timeout:       urlsTimeout,
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded traffic runs and failed validations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.History(cli.HistoryOptions{
			GlobalOptions: globalOptions(cmd),
			Protocol:      historyProtocol,
			Limit:         historyLimit,
		})
	},
}

// Global flags
var (
	flagLogLevel string
	flagLogJSON  bool
	flagQuiet    bool
	flagNoStore  bool
)

// Flags for run
var (
	runConfig string
	runLoops  int
)

// Flags for traffic
var (
	trafficTargets     []string
	trafficTargetsFile string
	trafficCount       int
	trafficDuration    time.Duration
	trafficConc        int
	trafficRate        float64
	trafficTimeout     time.Duration
	trafficPort        int
	trafficIPv6        bool
	trafficDNSServer   string
	trafficCurl        string
	trafficUser        string
	trafficPassword    string
	trafficRemoteDir   string
	trafficFileSize    int64
)

// Flags for ab
var (
	abRequests  int
	abConc      int
	abDuration  time.Duration
	abKeepAlive bool
	abPath      string
)

// defaultValidateSince lets validate see traffic driven shortly before it ran
const defaultValidateSince = 2 * time.Minute

// Flags for validate
var (
	valProcess    string
	valURLs       []string
	valURLFile    string
	valSince      time.Duration
	valLog        string
	valExceptions string
	valRounds     int
	valInterval   time.Duration
	valRecheck    time.Duration
	valTrusted    []string
)

// Flags for cert
var (
	certPort    string
	certTimeout time.Duration
)

// Flags for logtail
var (
	tailLog     string
	tailSince   time.Duration
	tailPattern string
	tailRegex   bool
	tailPoll    time.Duration
)

// Flags for urls check
var (
	urlsKnown       string
	urlsOutput      string
	urlsConcurrency int
	urlsTimeout     time.Duration
)

// Flags for history
var (
	historyProtocol string
	historyLimit    int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Write the log file as JSON")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Do not echo log lines to the console")
	rootCmd.PersistentFlags().BoolVar(&flagNoStore, "no-store", false, "Do not record runs in the history database")

	// Root runs the loop, so it shares the run flags
	rootCmd.Flags().StringVarP(&runConfig, "config", "c", config.DefaultToolFile, "Tool configuration file")
	rootCmd.Flags().IntVar(&runLoops, "loops", 0, "Override loop_times")
	runCmd.Flags().StringVarP(&runConfig, "config", "c", config.DefaultToolFile, "Tool configuration file")
	runCmd.Flags().IntVar(&runLoops, "loops", 0, "Override loop_times")

	trafficCmd.Flags().StringArrayVarP(&trafficTargets, "target", "t", nil, "Target host, IP or URL (repeatable)")
	trafficCmd.Flags().StringVar(&trafficTargetsFile, "targets-file", "", "File with one target per line")
	trafficCmd.Flags().IntVarP(&trafficCount, "count", "n", 0, "Number of work units")
	trafficCmd.Flags().DurationVarP(&trafficDuration, "duration", "d", 0, "Time budget (e.g. 10s)")
	trafficCmd.Flags().IntVarP(&trafficConc, "concurrency", "c", 0, "Concurrent workers")
	trafficCmd.Flags().Float64Var(&trafficRate, "rate", 0, "Max units per second (0 = unlimited)")
	trafficCmd.Flags().DurationVar(&trafficTimeout, "timeout", 0, "Per-unit timeout")
	trafficCmd.Flags().IntVarP(&trafficPort, "port", "p", 0, "Destination port (udp, ftp, ftps, sftp)")
	trafficCmd.Flags().BoolVar(&trafficIPv6, "ipv6", false, "Use IPv6 for udp")
	trafficCmd.Flags().StringVar(&trafficDNSServer, "dns-server", "", "Resolver address (host:port)")
	trafficCmd.Flags().StringVar(&trafficCurl, "curl", "", "curl executable for https")
	trafficCmd.Flags().StringVarP(&trafficUser, "user", "u", "", "Transfer user")
	trafficCmd.Flags().StringVar(&trafficPassword, "password", "", "Transfer password")
	trafficCmd.Flags().StringVar(&trafficRemoteDir, "remote-dir", "", "Remote upload directory")
	trafficCmd.Flags().Int64Var(&trafficFileSize, "file-size", 0, "Upload size in bytes")

	abCmd.Flags().IntVarP(&abRequests, "requests", "n", 0, "Total requests")
	abCmd.Flags().IntVarP(&abConc, "concurrency", "c", 0, "Concurrent connections")
	abCmd.Flags().DurationVarP(&abDuration, "duration", "t", 0, "Time limit")
	abCmd.Flags().BoolVarP(&abKeepAlive, "keep-alive", "k", false, "Use HTTP keep-alive")
	abCmd.Flags().StringVar(&abPath, "path", "", "ab executable")

	validateCmd.Flags().StringVarP(&valProcess, "process", "P", "curl.exe", "Process name the agent logs for the traffic")
	validateCmd.Flags().StringArrayVarP(&valURLs, "url", "u", nil, "URL to validate (repeatable)")
	validateCmd.Flags().StringVar(&valURLFile, "url-file", "", "File with one URL per line")
	validateCmd.Flags().DurationVar(&valSince, "since", defaultValidateSince, "Also search log lines written this long ago (0 = only new lines)")
	validateCmd.Flags().StringVar(&valLog, "log", "", "Agent debug log path")
	validateCmd.Flags().StringVar(&valExceptions, "exceptions", "", "Exception list path")
	validateCmd.Flags().IntVar(&valRounds, "rounds", validate.DefaultRounds, "Log polling rounds")
	validateCmd.Flags().DurationVar(&valInterval, "interval", validate.DefaultRoundInterval, "Pause between rounds")
	validateCmd.Flags().DurationVar(&valRecheck, "recheck", validate.DefaultRecheckDelay, "Delay before re-checking failures")
	validateCmd.Flags().StringSliceVar(&valTrusted, "trusted", nil, "Trusted issuer substrings (default agent CAs)")

	certCmd.Flags().StringVar(&certPort, "port", "", "TLS port (default 443)")
	certCmd.Flags().DurationVar(&certTimeout, "timeout", 0, "Handshake timeout")

	logtailCmd.Flags().StringVar(&tailLog, "log", "", "Agent debug log path")
	logtailCmd.Flags().DurationVar(&tailSince, "since", 0, "Replay this much history first")
	logtailCmd.Flags().StringVar(&tailPattern, "pattern", "", "Exit once this text appears")
	logtailCmd.Flags().BoolVar(&tailRegex, "regex", false, "Treat --pattern as a regular expression")
	logtailCmd.Flags().DurationVar(&tailPoll, "poll", 0, "Poll interval")

	urlsCheckCmd.Flags().StringVar(&urlsKnown, "known", "", "URLs already in use, skipped")
	urlsCheckCmd.Flags().StringVarP(&urlsOutput, "output", "o", "", "Write alive URLs here instead of stdout")
	urlsCheckCmd.Flags().IntVar(&urlsConcurrency, "concurrency", 0, "Concurrent checks")
	urlsCheckCmd.Flags().DurationVar(&urlsTimeout, "timeout", 0, "Per-URL timeout")
	urlsCmd.AddCommand(urlsCheckCmd)

	historyCmd.Flags().StringVar(&historyProtocol, "protocol", "", "Only runs for this protocol")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Rows to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(trafficCmd)
	rootCmd.AddCommand(abCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(logtailCmd)
	rootCmd.AddCommand(urlsCmd)
	rootCmd.AddCommand(historyCmd)
}

func globalOptions(cmd *cobra.Command) cli.GlobalOptions {
	return cli.GlobalOptions{
		LogLevel: flagLogLevel,
		LogJSON:  flagLogJSON,
		Quiet:    flagQuiet,
		NoStore:  flagNoStore,
		Out:      cmd.OutOrStdout(),
	}
}

// runLoop starts the stress loop
func runLoop(cmd *cobra.Command) error {
	return cli.Run(cli.RunOptions{
		GlobalOptions: globalOptions(cmd),
		ConfigFile:    runConfig,
		LoopTimes:     runLoops,
	})
}

// runTraffic generates one protocol burst
func runTraffic(cmd *cobra.Command, protocol string) error {
	return cli.Traffic(cli.TrafficOptions{
		GlobalOptions: globalOptions(cmd),
		Protocol:      protocol,
		Targets:       trafficTargets,
		TargetsFile:   trafficTargetsFile,
		Count:         trafficCount,
		Duration:      trafficDuration,
		Concurrency:   trafficConc,
		Rate:          trafficRate,
		Timeout:       trafficTimeout,
		Port:          trafficPort,
		IPv6:          trafficIPv6,
		DNSServer:     trafficDNSServer,
		CurlPath:      trafficCurl,
		User:          trafficUser,
		Password:      trafficPassword,
		RemoteDir:     trafficRemoteDir,
		FileSize:      trafficFileSize,
	})
}

// runAB drives ab against one URL
func runAB(cmd *cobra.Command, url string) error {
	return cli.AB(cli.ABOptions{
		GlobalOptions: globalOptions(cmd),
		URL:           url,
		Path:          abPath,
		Requests:      abRequests,
		Concurrency:   abConc,
		Duration:      abDuration,
		KeepAlive:     abKeepAlive,
	})
}

// runValidate checks URLs against the agent log
func runValidate(cmd *cobra.Command) error {
	return cli.Validate(cli.ValidateOptions{
		GlobalOptions:  globalOptions(cmd),
		Process:        valProcess,
		URLs:           valURLs,
		URLFile:        valURLFile,
		Since:          valSince,
		LogPath:        valLog,
		ExceptionPath:  valExceptions,
		Rounds:         valRounds,
		RoundInterval:  valInterval,
		RecheckDelay:   valRecheck,
		TrustedIssuers: valTrusted,
	})
}
