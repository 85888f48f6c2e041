package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/perch-app/perch/internal/bootstrap"
)

const (
	commandUse              = "fetch"
	commandShortDescription = "Fetch a post or a timeline page and print it as JSON"
	envPrefix               = "PERCH"

	flagAuthTokenName          = "auth-token"
	flagAuthTokenDescription   = "Session auth token cookie value"
	flagCSRFTokenName          = "csrf-token"
	flagCSRFTokenDescription   = "Session CSRF token cookie value"
	flagCatalogPathName        = "catalog-path"
	flagCatalogPathDescription = "Path of the persisted operation-identifier snapshot"
	flagPostName               = "post"
	flagPostDescription        = "Post id to fetch"
	flagTimelineName           = "timeline"
	flagTimelineDescription    = "Fetch a home timeline page instead of a single post"
	flagCountName              = "count"
	flagCountDescription       = "Number of timeline posts to request"
	flagCursorName             = "cursor"
	flagCursorDescription      = "Pagination cursor to continue from"

	defaultCount = 20

	errMessageLoggerCreate  = "create logger"
	errMessageNothingToDo   = "either --post or --timeline is required"
	errMessageEncodeFailure = "encode output"
)

func main() {
	cobra.CheckErr(newFetchCommand().Execute())
}

func newFetchCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   commandUse,
		Short: commandShortDescription,
		RunE:  runFetchCommand,
	}

	command.Flags().String(flagAuthTokenName, "", flagAuthTokenDescription)
	command.Flags().String(flagCSRFTokenName, "", flagCSRFTokenDescription)
	command.Flags().String(flagCatalogPathName, "", flagCatalogPathDescription)
	command.Flags().String(flagPostName, "", flagPostDescription)
	command.Flags().Bool(flagTimelineName, false, flagTimelineDescription)
	command.Flags().Int(flagCountName, defaultCount, flagCountDescription)
	command.Flags().String(flagCursorName, "", flagCursorDescription)

	for _, flagName := range []string{
		flagAuthTokenName, flagCSRFTokenName, flagCatalogPathName,
		flagPostName, flagTimelineName, flagCountName, flagCursorName,
	} {
		bindFlagToViper(command, flagName)
	}

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

func runFetchCommand(command *cobra.Command, _ []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	components := bootstrap.Build(bootstrap.Config{
		AuthToken:   viper.GetString(flagAuthTokenName),
		CSRFToken:   viper.GetString(flagCSRFTokenName),
		CatalogPath: viper.GetString(flagCatalogPathName),
		Logger:      logger,
	})

	var output any
	switch {
	case viper.GetString(flagPostName) != "":
		post, failure := components.Client.FetchPost(command.Context(), viper.GetString(flagPostName))
		if failure != nil {
			return failure
		}
		output = post
	case viper.GetBool(flagTimelineName):
		page, failure := components.Client.FetchTimeline(command.Context(),
			viper.GetInt(flagCountName), viper.GetString(flagCursorName))
		if failure != nil {
			return failure
		}
		output = page
	default:
		return fmt.Errorf("%s", errMessageNothingToDo)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if encodeErr := encoder.Encode(output); encodeErr != nil {
		return fmt.Errorf("%s: %w", errMessageEncodeFailure, encodeErr)
	}
	return nil
}
