package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/perch-app/perch/internal/apierror"
	"github.com/perch-app/perch/internal/bootstrap"
	"github.com/perch-app/perch/internal/server"
)

const (
	commandUse              = "server"
	commandShortDescription = "Serve the typed post API over HTTP"
	envPrefix               = "PERCH"

	flagHostName               = "host"
	flagHostDescription        = "Host interface for the HTTP server"
	flagPortName               = "port"
	flagPortDescription        = "Port for the HTTP server"
	flagAuthTokenName          = "auth-token"
	flagAuthTokenDescription   = "Session auth token cookie value"
	flagCSRFTokenName          = "csrf-token"
	flagCSRFTokenDescription   = "Session CSRF token cookie value"
	flagCatalogPathName        = "catalog-path"
	flagCatalogPathDescription = "Path of the persisted operation-identifier snapshot"
	flagUseBrowserName         = "use-browser"
	flagUseBrowserDescription  = "Derive the request-signing key through a headless browser"

	defaultHost = "127.0.0.1"
	defaultPort = 8080

	errMessageLoggerCreate   = "create logger"
	errMessageListenAndServe = "listen and serve"

	logMessageStartingServer = "starting HTTP server"
	logMessageServerStopped  = "server stopped"
	logMessageListenError    = "server listen failure"
	logMessageSessionExpired = "upstream session expired, refresh the cookies"
	logFieldAddress          = "address"
)

func main() {
	cobra.CheckErr(newServerCommand().Execute())
}

func newServerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   commandUse,
		Short: commandShortDescription,
		RunE:  runServerCommand,
	}

	command.Flags().String(flagHostName, defaultHost, flagHostDescription)
	command.Flags().Int(flagPortName, defaultPort, flagPortDescription)
	command.Flags().String(flagAuthTokenName, "", flagAuthTokenDescription)
	command.Flags().String(flagCSRFTokenName, "", flagCSRFTokenDescription)
	command.Flags().String(flagCatalogPathName, "", flagCatalogPathDescription)
	command.Flags().Bool(flagUseBrowserName, false, flagUseBrowserDescription)

	for _, flagName := range []string{
		flagHostName, flagPortName, flagAuthTokenName,
		flagCSRFTokenName, flagCatalogPathName, flagUseBrowserName,
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

func runServerCommand(command *cobra.Command, _ []string) error {
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
		UseBrowser:  viper.GetBool(flagUseBrowserName),
		Logger:      logger,
	})
	components.Client.OnSessionExpired(func(failure *apierror.APIError) {
		logger.Error(logMessageSessionExpired, zap.Error(failure))
	})

	watchCtx, cancelWatch := context.WithCancel(command.Context())
	defer cancelWatch()
	if viper.GetString(flagCatalogPathName) != "" {
		go components.Catalog.Watch(watchCtx)
	}

	router := server.NewRouter(server.RouterConfig{
		Service: components.Client,
		Logger:  logger,
	})

	address := fmt.Sprintf("%s:%d", viper.GetString(flagHostName), viper.GetInt(flagPortName))
	logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address))

	httpServer := &http.Server{Addr: address, Handler: router}
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(logMessageListenError, zap.Error(err))
		return fmt.Errorf("%s: %w", errMessageListenAndServe, err)
	}

	logger.Info(logMessageServerStopped)
	return nil
}
