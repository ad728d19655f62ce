package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/psf2rom/internal/report"
	"github.com/samcharles93/psf2rom/pkg/psf"
)

func inspectCmd() *cli.Command {
	var (
		asJSON      bool
		showProgram bool
		resolve     bool
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the header, tags and libraries of a PSF file",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the summary as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "program", Usage: "decompress the program and show its load header", Destination: &showProgram},
			&cli.BoolFlag{Name: "resolve", Usage: "resolve the libraries and show the image layout", Destination: &resolve},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("error: expected exactly one input file", 1)
			}
			path := cmd.Args().First()

			c, err := psf.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			summary := report.FromContainer(path, c)
			if showProgram {
				if err := summary.AddProgram(c, nil); err != nil {
					return cli.Exit(fmt.Sprintf("error: %s: %v", path, err), 1)
				}
			}
			if resolve {
				img, err := settings.Resolver().Resolve(path)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				summary.AddImage(img)
			}

			if asJSON {
				data, err := summary.JSON()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				_, err = fmt.Fprintln(cmd.Root().Writer, string(data))
				return err
			}
			return summary.WriteText(cmd.Root().Writer)
		},
	}
}
