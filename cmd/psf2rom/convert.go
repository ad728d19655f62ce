package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/psf2rom/internal/logger"
)

func convertCmd() *cli.Command {
	var output string

	return &cli.Command{
		Name:      "convert",
		Usage:     "Resolve a PSF file and its libraries and write the ROM image",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output file (default: <input>.data.bin)",
				Destination: &output,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			switch cmd.Args().Len() {
			case 0:
				return cli.Exit("error: no input file", 1)
			case 1:
			default:
				return cli.Exit("error: too many arguments", 1)
			}
			return runConvert(ctx, cmd.Args().First(), output)
		},
	}
}

func runConvert(ctx context.Context, input, output string) error {
	log := logger.FromContext(ctx)

	outPath, err := resolveOutputPath(input, output, settings)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}

	start := time.Now()
	img, err := settings.Resolver().Resolve(input)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	for _, l := range img.Loads {
		log.Debug("applied program",
			"path", l.Path,
			"depth", l.Depth,
			"offset", fmt.Sprintf("0x%08x", l.LoadOffset),
			"size", l.LoadSize,
		)
	}

	if err := os.WriteFile(outPath, img.ROM, 0o644); err != nil {
		return cli.Exit(fmt.Sprintf("error: write %s: %v", outPath, err), 1)
	}
	log.Info("wrote rom image",
		"output", outPath,
		"size", humanize.IBytes(uint64(len(img.ROM))),
		"files", len(img.Loads),
		"elapsed", time.Since(start),
	)
	return nil
}
