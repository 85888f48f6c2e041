package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/perch-app/perch/internal/bootstrap"
	"github.com/perch-app/perch/internal/catalog"
)

const (
	commandUse              = "catalog"
	commandShortDescription = "Print the resolved operation identifiers"
	envPrefix               = "PERCH"

	flagCatalogPathName        = "catalog-path"
	flagCatalogPathDescription = "Path of the persisted operation-identifier snapshot"
	flagRefreshName            = "refresh"
	flagRefreshDescription     = "Force a discovery pass and persist the refreshed snapshot"

	errMessageLoggerCreate = "create logger"

	columnSeparator = "\t"
)

func main() {
	cobra.CheckErr(newCatalogCommand().Execute())
}

func newCatalogCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   commandUse,
		Short: commandShortDescription,
		RunE:  runCatalogCommand,
	}

	command.Flags().String(flagCatalogPathName, "", flagCatalogPathDescription)
	command.Flags().Bool(flagRefreshName, false, flagRefreshDescription)

	bindFlagToViper(command, flagCatalogPathName)
	bindFlagToViper(command, flagRefreshName)

	cobra.OnInitialize(configureEnvironment)

	return command
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(viper.BindPFlag(flagName, command.Flags().Lookup(flagName)))
}

func configureEnvironment() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func runCatalogCommand(command *cobra.Command, _ []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	components := bootstrap.Build(bootstrap.Config{
		CatalogPath: viper.GetString(flagCatalogPathName),
		Logger:      logger,
	})

	if viper.GetBool(flagRefreshName) {
		components.Catalog.Refresh(command.Context(), catalog.AllOperations(), true)
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, operation := range catalog.AllOperations() {
		fmt.Fprintf(writer, "%s%s%s\n", operation, columnSeparator, components.Catalog.Resolve(operation))
	}
	return writer.Flush()
}
