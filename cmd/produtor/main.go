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
	"github.com/migueloliveira6/securemarket/httpserver"
	"github.com/migueloliveira6/securemarket/identity"
	"github.com/migueloliveira6/securemarket/inventory"
	"github.com/migueloliveira6/securemarket/socketserver"
	"github.com/migueloliveira6/securemarket/storage"
)

var cliFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:5001",
		Usage: "address to listen on for the signed catalog API",
	},
	&cli.StringFlag{
		Name:  "socket-addr",
		Value: "",
		Usage: "address to listen on for the plain socket protocol (disabled if empty)",
	},
	&cli.StringFlag{
		Name:     "nome",
		Required: true,
		Usage:    "producer name to register with the gestor",
	},
	&cli.StringFlag{
		Name:  "public-ip",
		Value: "127.0.0.1",
		Usage: "address advertised to the gestor's producer directory",
	},
	&cli.IntFlag{
		Name:  "public-port",
		Value: 5001,
		Usage: "port advertised to the gestor's producer directory",
	},
	&cli.Int64Flag{
		Name:  "registration-interval",
		Value: 100,
		Usage: "seconds between certificate renewals",
	},
	&cli.IntFlag{
		Name:  "max-conns",
		Value: 64,
		Usage: "maximum concurrent socket protocol connections",
	},
	flags.GestorURLFlag,
	flags.SnapshotURIFlag,
	flags.LogServiceFlagFn("produtor"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "produtor",
		Usage: "Serve a signed product catalog backed by a durable inventory",
		Flags: cliFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			backend, err := storage.NewBackendFromURI(cCtx.String(flags.SnapshotURIFlag.Name), logger)
			if err != nil {
				logger.Error("Failed to create snapshot backend", "err", err)
				return err
			}
			logger.Info("Inventory snapshot backend ready",
				"backend", backend.Name(), "location", backend.LocationURI())

			store, err := inventory.NewStore(ctx, backend, logger)
			if err != nil {
				logger.Error("Failed to load inventory", "err", err)
				return err
			}

			manager, err := identity.NewManager(identity.Config{
				Nome:     cCtx.String("nome"),
				IP:       cCtx.String("public-ip"),
				Porta:    cCtx.Int("public-port"),
				Issuer:   gestor.NewClient(cCtx.String(flags.GestorURLFlag.Name)),
				Interval: time.Duration(cCtx.Int64("registration-interval")) * time.Second,
				Log:      logger,
			})
			if err != nil {
				logger.Error("Failed to create identity manager", "err", err)
				return err
			}

			// First registration is blocking so the server never answers
			// without a certificate. Renewals happen in the background.
			if err := manager.Register(ctx); err != nil {
				logger.Error("Initial registration with gestor failed", "err", err)
				return err
			}
			go manager.Run(ctx)

			handler := httpserver.NewHandler(store, manager, logger)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			var socketSrv *socketserver.Server
			if socketAddr := cCtx.String("socket-addr"); socketAddr != "" {
				socketSrv = socketserver.New(socketserver.Config{
					ListenAddr: socketAddr,
					MaxConns:   cCtx.Int("max-conns"),
					Log:        logger,
				}, store)
				if err := socketSrv.Listen(); err != nil {
					logger.Error("Failed to bind socket listener", "err", err)
					return err
				}
				socketSrv.RunInBackground()
			}

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Producer is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			cancel()
			if socketSrv != nil {
				socketSrv.Shutdown()
			}
			server.Shutdown()
			logger.Info("Producer shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
