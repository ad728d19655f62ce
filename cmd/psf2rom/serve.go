package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/psf2rom/internal/logger"
	"github.com/samcharles93/psf2rom/internal/server"
)

func serveCmd() *cli.Command {
	var (
		root        string
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve inspection and ROM extraction for a directory of PSF files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "root",
				Usage:       "directory served",
				Value:       ".",
				Destination: &root,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, settings, &addr, &root)

			cfg := server.Config{
				Address:     addr,
				ReadTimeout: readTimeout,
			}
			r := settings.Resolver()
			cfg.MaxNestLevel = r.MaxNestLevel
			cfg.MaxImageSize = r.MaxImageSize

			log := logger.FromContext(ctx).With("root", root)
			return server.New(root, cfg, log).Start(ctx, cfg)
		},
	}
}
