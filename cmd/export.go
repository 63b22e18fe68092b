package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rubiojr/pulse/pkg/archive"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/urfave/cli/v3"
)

// ExportCommand creates the export command
func ExportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export every message to a zstd compressed JSON lines archive",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "output",
				Usage: "Archive path (defaults to pulse-messages-YYYYMMDD.jsonl.zst)",
			},
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "Read the archive back and check the message count",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			output := c.String("output")
			if output == "" {
				output = fmt.Sprintf("pulse-messages-%s.jsonl.zst", time.Now().Format("20060102"))
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := exportArchive(ctx, store, output)
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d messages to %s\n", count, output)

			if c.Bool("verify") {
				if err := verifyArchive(output, count); err != nil {
					return err
				}
				fmt.Println("Archive verified")
			}
			return nil
		},
	}
}

func exportArchive(ctx context.Context, src archive.Source, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}
	count, err := archive.Export(ctx, src, f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing archive: %w", err)
	}
	return count, nil
}

func verifyArchive(path string, want int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	got, err := archive.Read(f, func(core.Message) error { return nil })
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	if got != want {
		return fmt.Errorf("archive holds %d messages, expected %d", got, want)
	}
	return nil
}
