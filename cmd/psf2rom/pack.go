package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/psf2rom/internal/logger"
	"github.com/samcharles93/psf2rom/pkg/psf"
)

func packCmd() *cli.Command {
	var (
		input      string
		output     string
		versionStr string
		offsetStr  string
		reserved   string
		tags       []string
		libs       []string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Build a PSF file from a raw program image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "raw program data",
				Destination: &input,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output PSF file",
				Destination: &output,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "version",
				Usage:       "version byte, eg 0x24 for 2SF",
				Value:       "0x24",
				Destination: &versionStr,
			},
			&cli.StringFlag{
				Name:        "load-offset",
				Usage:       "ROM offset the program is loaded at",
				Value:       "0",
				Destination: &offsetStr,
			},
			&cli.StringFlag{
				Name:        "reserved",
				Usage:       "file copied into the reserved area",
				Destination: &reserved,
			},
			&cli.StringSliceFlag{
				Name:        "tag",
				Usage:       "tag as name=value (repeatable)",
				Destination: &tags,
			},
			&cli.StringSliceFlag{
				Name:        "lib",
				Usage:       "library reference, written as _lib, _lib2, ... (repeatable)",
				Destination: &libs,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			ver, err := strconv.ParseUint(versionStr, 0, 8)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: invalid version %q", versionStr), 1)
			}
			offset, err := strconv.ParseUint(offsetStr, 0, 32)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: invalid load offset %q", offsetStr), 1)
			}

			data, err := os.ReadFile(input)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			c, err := psf.Pack(byte(ver), uint32(offset), data, nil)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if reserved != "" {
				if c.Reserved, err = os.ReadFile(reserved); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			for i, lib := range libs {
				c.Tags.Set(psf.LibTagName(i+1), lib)
			}
			for _, t := range tags {
				name, value, err := parseTagFlag(t)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if len(libs) > 0 && psf.IsLibTagName(name) {
					return cli.Exit(fmt.Sprintf("error: tag %s conflicts with --lib", name), 1)
				}
				c.Tags.Append(name, value)
			}

			if err := c.WriteFile(output); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("wrote psf",
				"output", output,
				"version", psf.VersionName(c.Version),
				"program", humanize.IBytes(uint64(len(data))),
				"compressed", humanize.IBytes(uint64(len(c.Program))),
				"tags", c.Tags.Len(),
			)
			return nil
		},
	}
}

// parseTagFlag splits a name=value flag. Both sides are trimmed the way the
// tag parser trims them so the written tag reads back unchanged.
func parseTagFlag(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", fmt.Errorf("invalid tag %q: expected name=value", s)
	}
	name = psf.TrimTagSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("invalid tag %q: empty name", s)
	}
	if strings.Contains(name, "\n") {
		return "", "", fmt.Errorf("invalid tag %q: name contains a newline", s)
	}
	return name, psf.TrimTagSpace(value), nil
}
