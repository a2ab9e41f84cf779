package main

import (
	"fmt"
	"strings"

	"github.com/replforge/backend/internal/core/services"
	"github.com/replforge/backend/internal/domain"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List supported OS labels and MongoDB versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := domain.DefaultCatalog()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "OS types:        %s\n", strings.Join(catalog.OSTypes, ", "))
		fmt.Fprintf(out, "MongoDB versions: %s\n", strings.Join(catalog.MongoVersions, ", "))
		return nil
	},
}

var (
	planOS      string
	planVersion string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the remote directives without connecting",
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, err := services.PlatformFor(planOS)
		if err != nil {
			return err
		}
		version, err := services.ParseVersion(planVersion)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s packages, MongoDB %s (%s)\n", platform.Family(), version.Series, version.Release)
		for i, c := range platform.InstallationPlan(version) {
			fmt.Fprintf(out, "%2d. [%s] %s\n", i+1, c.Name, c.Directive)
		}
		fmt.Fprintf(out, "\n# %s\n%s", domain.MongoConfigPath, services.MongodConfig(platform.DataPath()))
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planOS, "os", "Ubuntu 22.04", "OS label, see catalog")
	planCmd.Flags().StringVar(&planVersion, "mongo-version", "8.0", "MongoDB release series")
}
