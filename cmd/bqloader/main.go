package main

import (
	"context"
	"os"

	"github.com/anicoll/bqloader/cmd/command"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "bqloader",
		Usage: "bulk-load n-gram corpora from Cloud Storage into BigQuery",
		Commands: []*cli.Command{
			command.LoadCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("bqloader failed")
	}
}
