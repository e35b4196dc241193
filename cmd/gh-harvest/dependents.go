package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/osslab-pku/github-scraper-client/pkg/scraper"
	"github.com/osslab-pku/github-scraper-client/pkg/sink"
)

var dependentsConfig struct {
	depType   string
	packageID string
}

var dependentsCmd = &cobra.Command{
	Use:   "dependents owner/name [owner/name ...]",
	Short: "harvest repository or package dependents to CSV",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDependents,
}

func init() {
	dependentsCmd.Flags().StringVar(&dependentsConfig.depType, "type", scraper.DefaultDependentsType,
		"dependents type (REPOSITORY or PACKAGE)")
	dependentsCmd.Flags().StringVar(&dependentsConfig.packageID, "package-id", "",
		"package id from the dependents page URL (PACKAGE type only)")

	rootCmd.AddCommand(dependentsCmd)
}

func runDependents(cmd *cobra.Command, args []string) error {
	targets := make([]scraper.DependentsTarget, 0, len(args))
	for _, arg := range args {
		owner, name, err := splitRepo(arg)
		if err != nil {
			return err
		}
		targets = append(targets, scraper.DependentsTarget{
			Owner:     owner,
			Name:      name,
			Type:      dependentsConfig.depType,
			PackageID: dependentsConfig.packageID,
		})
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	csvSink := sink.NewCSV(veep.GetString(flagOutDir))
	defer csvSink.Close()

	outcomes := client.GetDependentsWithCallback(ctx, targets, csvSink.Callback)
	return reportOutcomes(outcomes)
}
