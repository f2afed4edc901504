package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/nftbatch/internal/providers"
	"github.com/osvaldoandrade/nftbatch/internal/services"
	"github.com/osvaldoandrade/nftbatch/pkg/domain"
)

const defaultServerURL = "http://localhost:8000"

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

type profile struct {
	ServerURL      string `yaml:"serverUrl"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	RetryAttempts  int    `yaml:"retryAttempts"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

// settings are the resolved connection options shared by every command.
type settings struct {
	serverURL string
	timeout   time.Duration
	attempts  int
	verbose   bool
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func main() {
	_ = godotenv.Load(".env", ".env.local")

	var (
		serverURL   = getenv("SERVER_URL", "")
		timeoutSec  int
		attempts    int
		profileName = getenv("NFTBATCH_PROFILE", "")
		verbose     bool
		s           settings
	)
	ui := newUI()

	root := &cobra.Command{
		Use:   "nftbatch",
		Short: "NFT Batch Download CLI",
		Long:  "Submit NFT contract addresses to the archive service and check on their S3 downloads.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&serverURL, "server-url", serverURL, "Archive service base URL")
	root.PersistentFlags().IntVar(&timeoutSec, "timeout", 0, "Request timeout in seconds")
	root.PersistentFlags().IntVar(&attempts, "retries", 0, "Attempts per query for transport failures")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log retries and request details")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return fmt.Errorf("read %s: %w", configPath(), err)
		}
		prof := cfg.Profiles[resolveProfileName(profileName, cfg)]
		s = resolveSettings(serverURL, timeoutSec, attempts, prof)
		s.verbose = verbose
		return nil
	}

	root.AddCommand(initCmd(&profileName, ui))
	root.AddCommand(submitCmd(&s, ui))
	root.AddCommand(submitFileCmd(&s, ui))
	root.AddCommand(tuiCmd(&s))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

// resolveSettings applies flag > profile > default. SERVER_URL is folded into
// the flag default by main.
func resolveSettings(serverURL string, timeoutSec, attempts int, prof profile) settings {
	s := settings{
		serverURL: firstNonEmpty(strings.TrimSpace(serverURL), prof.ServerURL, defaultServerURL),
		timeout:   30 * time.Second,
		attempts:  1,
	}
	if timeoutSec <= 0 {
		timeoutSec = prof.TimeoutSeconds
	}
	if timeoutSec > 0 {
		s.timeout = time.Duration(timeoutSec) * time.Second
	}
	if attempts <= 0 {
		attempts = prof.RetryAttempts
	}
	if attempts > 0 {
		s.attempts = attempts
	}
	s.serverURL = strings.TrimRight(s.serverURL, "/")
	return s
}

func (s settings) client() providers.CollectionsClient {
	level := slog.LevelWarn
	if s.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return providers.NewCollectionsClient(providers.CollectionsClientOptions{
		BaseURL:     s.serverURL,
		Timeout:     s.timeout,
		Attempts:    s.attempts,
		BackoffBase: 250 * time.Millisecond,
		BackoffMax:  4 * time.Second,
		Logger:      logger,
	})
}

func initCmd(profileName *string, ui *ui) *cobra.Command {
	var (
		serverURL string
		timeout   int
		retries   int
		noPrompt  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]

			serverURL = firstNonEmpty(serverURL, prof.ServerURL, os.Getenv("SERVER_URL"), defaultServerURL)
			if timeout <= 0 {
				timeout = prof.TimeoutSeconds
			}
			if timeout <= 0 {
				timeout = 30
			}

			if !noPrompt {
				reader := bufio.NewReader(os.Stdin)
				serverURL = prompt(reader, "Archive service URL", serverURL)
			}

			prof.ServerURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
			prof.TimeoutSeconds = timeout
			if retries > 0 {
				prof.RetryAttempts = retries
			}

			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = active
			}

			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Initialized profile '%s' at %s\n", ui.ok("[OK]"), active, cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server-url", "", "Archive service base URL")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Request timeout in seconds")
	cmd.Flags().IntVar(&retries, "retries", 0, "Attempts per query for transport failures")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func submitCmd(s *settings, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:     "submit <address>",
		Short:   "Start or check the S3 download for a collection",
		Example: "nftbatch submit 0x93980f2f30da266b0667f38a191dc7e92703293f",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := domain.ContractAddress(args[0]).Trimmed()
			if address.IsEmpty() {
				return errors.New("contract address is required")
			}
			if hint := addressHint(address); hint != "" {
				fmt.Fprintln(os.Stderr, ui.dim(hint))
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			poller := services.NewStatusPoller(s.client(), nil)
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Checking collection..."
			spin.Start()
			view, out := poller.Submit(ctx, address)
			spin.Stop()

			return printResult(os.Stdout, ui, address, view, out)
		},
	}
}

// printResult writes the view for one query and returns the outcome error.
func printResult(w io.Writer, ui *ui, address domain.ContractAddress, view domain.View, out domain.Outcome) error {
	if err := out.Err(); err != nil {
		return fmt.Errorf("%s: %w", address, err)
	}
	if !out.Response.Status.IsKnown() {
		fmt.Fprintf(w, "%s Archive service reported unrecognized status %q for %s\n", ui.warn("[WARN]"), out.Response.Status, address)
		return nil
	}
	fmt.Fprintf(w, "%s %s\n", ui.ok("[OK]"), view.Message)
	if view.HasLink() {
		fmt.Fprintf(w, "%s View the images here: %s\n", ui.info("[LINK]"), view.ArchiveLink)
	}
	return nil
}

type fileResult struct {
	address domain.ContractAddress
	view    domain.View
	outcome domain.Outcome
}

func submitFileCmd(s *settings, ui *ui) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "submit-file <path>",
		Short: "Submit every address listed in a file (one per line, '-' for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			addresses, err := readAddresses(r)
			if err != nil {
				return err
			}
			if len(addresses) == 0 {
				return errors.New("no addresses found")
			}
			if concurrency <= 0 {
				concurrency = 1
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client := s.client()
			bar := progressbar.NewOptions(len(addresses),
				progressbar.OptionSetDescription("Submitting collections"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			results := submitAll(ctx, client, addresses, concurrency, func() { _ = bar.Add(1) })
			_ = bar.Finish()

			failed := printSummary(os.Stdout, ui, results)
			if failed > 0 {
				return fmt.Errorf("%d of %d submissions failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Parallel requests")
	return cmd
}

// readAddresses returns the non-empty lines of r, skipping '#' comments.
func readAddresses(r io.Reader) ([]domain.ContractAddress, error) {
	var out []domain.ContractAddress
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, domain.ContractAddress(line))
	}
	return out, sc.Err()
}

// submitAll queries every address with at most concurrency requests in
// flight. Results keep the input order.
func submitAll(ctx context.Context, client providers.CollectionsClient, addresses []domain.ContractAddress, concurrency int, done func()) []fileResult {
	results := make([]fileResult, len(addresses))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, addr := range addresses {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, addr domain.ContractAddress) {
			defer wg.Done()
			defer func() { <-sem }()
			poller := services.NewStatusPoller(client, nil)
			view, out := poller.Submit(ctx, addr)
			results[i] = fileResult{address: addr, view: view, outcome: out}
			if done != nil {
				done()
			}
		}(i, addr)
	}
	wg.Wait()
	return results
}

func printSummary(w io.Writer, ui *ui, results []fileResult) int {
	failed := 0
	counts := map[domain.Phase]int{}
	for _, r := range results {
		switch {
		case !r.outcome.IsSuccess():
			failed++
			fmt.Fprintf(w, "%s %s %s\n", ui.err("[ERROR]"), r.address, r.outcome.Err())
		case !r.outcome.Response.Status.IsKnown():
			fmt.Fprintf(w, "%s %s unrecognized status %q\n", ui.warn("[WARN]"), r.address, r.outcome.Response.Status)
		default:
			counts[r.view.Phase()]++
			line := fmt.Sprintf("%s %s %s", ui.ok("[OK]"), r.address, r.view.Phase())
			if r.view.HasLink() {
				line += " " + r.view.ArchiveLink
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintf(w, "%s %d finished, %d in progress, %d pending, %d failed\n",
		ui.title("Summary:"),
		counts[domain.PhaseFinished], counts[domain.PhaseInProgress], counts[domain.PhasePending], failed)
	return failed
}

func tuiCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "ui [address]",
		Short: "Interactive terminal front-end",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("ui requires an interactive terminal (TTY)")
			}
			initial := ""
			if len(args) == 1 {
				initial = args[0]
			}
			poller := services.NewStatusPoller(s.client(), nil)
			return runTUI(cmd.Context(), poller, s.serverURL, initial)
		},
	}
}

// addressHint is printed before a query. Addresses are always sent as typed.
func addressHint(a domain.ContractAddress) string {
	switch {
	case a.IsEmpty():
		return ""
	case !a.LooksLikeHex():
		return "hint: " + string(a) + " does not look like a 0x-prefixed Ethereum address; sending it anyway"
	case a.Checksum() != string(a):
		return "checksum: " + a.Checksum()
	}
	return ""
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func helpTemplate(ui *ui) string {
	title := ui.title("nftbatch")
	return fmt.Sprintf(`%s - CLI for NFT Batch Download

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  nftbatch init --server-url https://archive.example.com
  nftbatch submit 0x93980f2f30da266b0667f38a191dc7e92703293f
  nftbatch submit-file collections.txt --concurrency 8
  nftbatch ui

`, title, configPath())
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("NFTBATCH_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".nftbatch", "config.yaml")
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv("NFTBATCH_PROFILE")); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
