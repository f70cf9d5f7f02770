package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/migueloliveira6/securemarket/cmd/flags"
	"github.com/migueloliveira6/securemarket/gestor"
	"github.com/migueloliveira6/securemarket/storage"
)

var cliFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:5000",
		Usage: "address to listen on for registration and directory requests",
	},
	&cli.StringFlag{
		Name:  "ca-key-uri",
		Value: "file://./gestor_ca.pem",
		Usage: "CA key location (file://, s3://, vault:// or mem://)",
	},
	flags.LogServiceFlagFn("gestor"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "gestor",
		Usage: "Issue producer certificates and serve the producer directory",
		Flags: cliFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			ctx := context.Background()
			backend, err := storage.NewBackendFromURI(cCtx.String("ca-key-uri"), logger)
			if err != nil {
				logger.Error("Failed to create CA key backend", "err", err)
				return err
			}

			authority, err := gestor.LoadOrCreateAuthority(ctx, backend, logger)
			if err != nil {
				logger.Error("Failed to initialize certificate authority", "err", err)
				return err
			}

			trustRoot, err := authority.TrustRootPEM()
			if err != nil {
				logger.Error("Failed to encode trust root", "err", err)
				return err
			}
			logger.Info("Trust root ready, distribute it to marketplaces",
				"trustRoot", string(trustRoot))

			server := gestor.NewServer(&gestor.ServerConfig{
				ListenAddr:               cCtx.String("listen-addr"),
				Log:                      logger,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}, authority)
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Gestor is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Gestor shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
