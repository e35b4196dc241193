// gh-harvest bulk-harvests paginated GitHub resources (issue lists, pull
// lists, dependents) through a scraper backend and writes them to CSV.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/osslab-pku/github-scraper-client/pkg/logging"
	"github.com/osslab-pku/github-scraper-client/pkg/scraper"
)

var veep *viper.Viper

var rootCmd = &cobra.Command{
	Use:     "gh-harvest",
	Short:   "bulk-harvest GitHub resources through a scraper backend",
	Version: "0.1.0",
}

const (
	flagBaseURL  = "base-url"
	flagAuth     = "auth"
	flagWorkers  = "workers"
	flagRetries  = "retries"
	flagMaxPages = "max-pages"
	flagProxy    = "proxy"
	flagOutDir   = "out"
	flagVerbose  = "verbose"
)

func init() {
	veep = viper.New()

	pf := rootCmd.PersistentFlags()
	pf.String(flagBaseURL, "", "scraper backend base URL (required)")
	pf.String(flagAuth, "", "authorization credential (required)")
	pf.Int(flagWorkers, 10, "max concurrent page fetches (<= 30 recommended)")
	pf.Int(flagRetries, 3, "retry budget per page")
	pf.Int(flagMaxPages, 10, "backend subrequest limit per fetch")
	pf.String(flagProxy, "", "outbound HTTP proxy URL")
	pf.String(flagOutDir, ".", "directory for CSV output")
	pf.BoolP(flagVerbose, "v", false, "enable debug logging")

	for _, flag := range []string{flagBaseURL, flagAuth, flagWorkers, flagRetries, flagMaxPages, flagProxy, flagOutDir, flagVerbose} {
		if err := veep.BindPFlag(flag, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	cobra.OnInitialize(initConfig)
}

// initConfig loads .env and environment variables (prefix GHS, e.g.
// GHS_BASE_URL) underneath the command-line flags.
func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Can't read .env file")
	}

	veep.SetEnvPrefix("ghs")
	veep.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	veep.AutomaticEnv()

	level := logging.LevelInfo
	if veep.GetBool(flagVerbose) {
		level = logging.LevelDebug
	}
	logging.Setup(logging.Config{Level: level, Pretty: true, Output: os.Stderr})
}

// newClient builds the scraper client from the resolved configuration.
func newClient() (*scraper.Client, error) {
	cfg := scraper.DefaultConfig(veep.GetString(flagBaseURL), veep.GetString(flagAuth))
	cfg.NumWorkers = veep.GetInt(flagWorkers)
	cfg.NumRetries = veep.GetInt(flagRetries)
	cfg.MaxPages = veep.GetInt(flagMaxPages)
	cfg.ProxyURL = veep.GetString(flagProxy)
	return scraper.New(cfg)
}

// splitRepo parses an "owner/name" argument.
func splitRepo(arg string) (owner, name string, err error) {
	parts := strings.SplitN(arg, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, want owner/name", arg)
	}
	return parts[0], parts[1], nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
