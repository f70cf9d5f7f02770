package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/migueloliveira6/securemarket/cmd/flags"
	"github.com/migueloliveira6/securemarket/gestor"
	"github.com/migueloliveira6/securemarket/market"
	"github.com/migueloliveira6/securemarket/trust"
)

var trustRootFlag = &cli.StringFlag{
	Name:     "trust-root",
	Required: true,
	Usage:    "PEM file with the gestor's public key, obtained out-of-band",
}
var produtorFlag = &cli.StringFlag{
	Name:  "produtor",
	Usage: "producer name, resolved through the gestor's directory",
}
var produtorURLFlag = &cli.StringFlag{
	Name:  "produtor-url",
	Usage: "producer base URL, bypassing directory resolution",
}

func main() {
	app := &cli.App{
		Name:  "marketplace",
		Usage: "Browse and buy from registered producers, verifying every answer",
		Flags: append([]cli.Flag{
			trustRootFlag,
			flags.GestorURLFlag,
			flags.LogServiceFlagFn("marketplace"),
		}, flags.LogJsonFlag, flags.LogDebugFlag),
		Commands: []*cli.Command{
			{
				Name:  "produtores",
				Usage: "List producers registered with the gestor",
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}

					producers, err := client.Producers(cCtx.Context)
					if err != nil {
						return err
					}
					for _, p := range producers {
						fmt.Printf("%s\t%s\tsecure=%d\n", p.Nome, p.Addr(), p.Secure)
					}
					return nil
				},
			},
			{
				Name:  "categorias",
				Usage: "List a producer's categories",
				Flags: []cli.Flag{produtorFlag, produtorURLFlag},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					target, err := resolveProducer(cCtx, client)
					if err != nil {
						return err
					}

					categorias, err := client.SecureCategories(cCtx.Context, target)
					if err != nil {
						return err
					}
					for _, categoria := range categorias {
						fmt.Println(categoria)
					}
					return nil
				},
			},
			{
				Name:  "produtos",
				Usage: "List a producer's products in one category",
				Flags: []cli.Flag{
					produtorFlag,
					produtorURLFlag,
					&cli.StringFlag{
						Name:     "categoria",
						Required: true,
						Usage:    "category to list",
					},
				},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					target, err := resolveProducer(cCtx, client)
					if err != nil {
						return err
					}

					produtos, err := client.SecureProducts(cCtx.Context, target, cCtx.String("categoria"))
					if err != nil {
						return err
					}
					for _, p := range produtos {
						fmt.Printf("%s\t%s\tquantidade=%d\tpreco=%.2f\n",
							p.Categoria, p.Produto, p.Quantidade, p.Preco)
					}
					return nil
				},
			},
			{
				Name:  "comprar",
				Usage: "Buy a quantity of a product from a producer",
				Flags: []cli.Flag{
					produtorFlag,
					produtorURLFlag,
					&cli.StringFlag{
						Name:     "produto",
						Required: true,
						Usage:    "product name",
					},
					&cli.IntFlag{
						Name:     "quantidade",
						Required: true,
						Usage:    "units to buy",
					},
				},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					target, err := resolveProducer(cCtx, client)
					if err != nil {
						return err
					}

					mensagem, err := client.SecureBuy(cCtx.Context, target,
						cCtx.String("produto"), cCtx.Int("quantidade"))
					if err != nil {
						return err
					}
					fmt.Println(mensagem)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) (*market.Client, error) {
	logger := flags.SetupLogger(cCtx)

	trustRootPEM, err := os.ReadFile(cCtx.String(trustRootFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("could not read trust root: %w", err)
	}
	verifier, err := trust.New(trustRootPEM)
	if err != nil {
		return nil, err
	}

	directory := gestor.NewClient(cCtx.String(flags.GestorURLFlag.Name))
	return market.NewClient(verifier, directory, logger), nil
}

// resolveProducer turns --produtor-url or --produtor into a base URL.
// Names are looked up in the gestor's directory, which is advisory only:
// responses still have to verify against the trust root.
func resolveProducer(cCtx *cli.Context, client *market.Client) (string, error) {
	if target := cCtx.String(produtorURLFlag.Name); target != "" {
		return target, nil
	}

	nome := cCtx.String(produtorFlag.Name)
	if nome == "" {
		return "", fmt.Errorf("either --produtor or --produtor-url is required")
	}

	producers, err := client.Producers(context.Background())
	if err != nil {
		return "", fmt.Errorf("could not query producer directory: %w", err)
	}
	for _, p := range producers {
		if p.Nome == nome {
			return "http://" + p.Addr(), nil
		}
	}
	return "", fmt.Errorf("producer %q is not registered", nome)
}
