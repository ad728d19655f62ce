package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:      "psf2rom",
		Usage:     "Extract the ROM image from a PSF file and its psflibs",
		ArgsUsage: "<file>",
		Flags:     globalFlags(),
		Before:    setup,
		// Tag values may contain commas.
		DisableSliceFlagSeparator: true,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// psf2rom <file> is shorthand for psf2rom convert <file>.
			if cmd.Args().Len() == 0 {
				return cli.ShowAppHelp(cmd)
			}
			if cmd.Args().Len() > 1 {
				return cli.Exit("error: too many arguments", 1)
			}
			return runConvert(ctx, cmd.Args().First(), "")
		},
		Commands: []*cli.Command{
			convertCmd(),
			inspectCmd(),
			packCmd(),
			serveCmd(),
			versionCmd(),
		},
	}
}
