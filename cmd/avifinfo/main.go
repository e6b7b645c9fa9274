package main

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/avifgo/avif"
	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
)

var (
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func main() {
	cmd := &cli.Command{
		Name:            "avifinfo",
		Usage:           "inspect and decode AVIF still images and sequences",
		UsageText:       "avifinfo <info|decode> <input> [output]",
		Version:         "<version>",
		HideHelpCommand: true,
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "print the image count and parse diagnostics of an AVIF file",
				UsageText: "avifinfo info <input>",
				Action: func(ctx context.Context, command *cli.Command) error {
					input := command.Args().First()
					if len(input) == 0 {
						return fmt.Errorf("missing input file")
					}
					return printInfo(input)
				},
			},
			{
				Name:      "decode",
				Usage:     "decode the primary image of an AVIF file to PNG",
				UsageText: "avifinfo decode <input> <output.png>",
				Action: func(ctx context.Context, command *cli.Command) error {
					input := command.Args().First()
					output := command.Args().Get(1)
					if len(input) == 0 {
						return fmt.Errorf("missing input file")
					}
					if len(output) == 0 {
						return fmt.Errorf("missing output file")
					}
					now := time.Now()
					w, h, err := decodeToPNG(input, output)
					if err != nil {
						return err
					}
					fmt.Println(green.Render(fmt.Sprintf("decoded %dx%d image to %s in %s", w, h, output, time.Since(now).Truncate(time.Millisecond))))
					return nil
				},
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return fmt.Errorf("either the command <info> or <decode> must be used")
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(red.Render(fmt.Sprintf("error: %v", err)))
		os.Exit(1)
	}
}

func openDecoder(path string) (*avif.Decoder, func(), error) {
	src, err := avif.NewFileSource(path)
	if err != nil {
		return nil, nil, err
	}
	d := avif.NewDecoder()
	d.SetSource(src)
	if err := d.Parse(); err != nil {
		src.Close()
		return nil, nil, err
	}
	return d, func() { src.Close() }, nil
}

func printInfo(path string) error {
	d, closeFn, err := openDecoder(path)
	if err != nil {
		return err
	}
	defer closeFn()

	fmt.Println(yellow.Render(fmt.Sprintf("images: %d", d.ImageCount())))
	for _, line := range d.Diagnostics() {
		fmt.Println(line)
	}
	return nil
}

func decodeToPNG(input, output string) (int, int, error) {
	d, closeFn, err := openDecoder(input)
	if err != nil {
		return 0, 0, err
	}
	defer closeFn()

	img, err := d.NextImage()
	if err != nil {
		return 0, 0, err
	}

	out, err := os.Create(output)
	if err != nil {
		return 0, 0, err
	}
	defer out.Close()

	if err := png.Encode(out, img); err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}
