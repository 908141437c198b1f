package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/seasonal/internal/config"
	"github.com/mtlprog/seasonal/internal/database"
	"github.com/mtlprog/seasonal/internal/domain"
	"github.com/mtlprog/seasonal/internal/export"
	"github.com/mtlprog/seasonal/internal/seasonal"
	"github.com/mtlprog/seasonal/internal/workbook"
)

var propagateMissingFlag = &cli.BoolFlag{
	Name:  "propagate-missing",
	Usage: "leave undefined derived values empty instead of replacing them with 0",
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply database migrations",
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			pool, err := database.Connect(c.Context, cfg.DatabaseURL, cfg.DatabaseMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			return migrate(c.Context, pool)
		},
	}
}

func processCommand() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "derive seasonal columns for a spreadsheet without storing it",
		ArgsUsage: "<input.xlsx>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the processed workbook to `FILE`"},
			&cli.IntFlag{Name: "preview", Value: 10, Usage: "print the first `N` processed rows"},
			propagateMissingFlag,
		},
		Action: func(c *cli.Context) error {
			records, err := readInput(c)
			if err != nil {
				return err
			}
			if err := domain.ValidateColumns(records); err != nil {
				return err
			}
			derived := seasonal.Derive(records, policyFlag(c))

			printSummary(c.App.Writer, seasonal.Summarize(derived))
			printPreview(c.App.Writer, derived, c.Int("preview"))

			if out := c.String("output"); out != "" {
				return writeWorkbook(c, out, []export.Sheet{{Asset: out, Records: derived}})
			}
			return nil
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "derive a spreadsheet and store it under an asset name",
		ArgsUsage: "<input.xlsx>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "asset", Aliases: []string{"a"}, Required: true, Usage: "asset `NAME`"},
			&cli.BoolFlag{Name: "replace", Usage: "replace the stored history instead of appending"},
			propagateMissingFlag,
		},
		Action: func(c *cli.Context) error {
			records, err := readInput(c)
			if err != nil {
				return err
			}
			st, err := openStore(c.Context, config.Load())
			if err != nil {
				return err
			}
			defer st.Close()

			derived, err := st.assets.Upload(c.Context, c.String("asset"), records, policyFlag(c), c.Bool("replace"))
			if err != nil {
				return err
			}
			printSummary(c.App.Writer, seasonal.Summarize(derived))
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write stored assets to an .xlsx file or to Google Sheets",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "asset", Aliases: []string{"a"}, Usage: "export only asset `NAME`"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the workbook to `FILE`"},
			&cli.BoolFlag{Name: "sheets", Usage: "write to the configured Google spreadsheet"},
		},
		Action: func(c *cli.Context) error {
			if c.String("output") == "" && !c.Bool("sheets") {
				return errors.New("either --output or --sheets is required")
			}
			cfg := config.Load()
			st, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			run := func(writer export.SheetWriter) (string, error) {
				svc := export.NewService(st.assets, writer)
				if name := c.String("asset"); name != "" {
					if err := svc.ExportAsset(c.Context, name); err != nil {
						return "", err
					}
					return "exported " + name, nil
				}
				n, err := svc.ExportAll(c.Context)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("exported %d assets", n), nil
			}

			var msg string
			if c.Bool("sheets") {
				if !cfg.SheetsEnabled() {
					return errors.New("SHEETS_SPREADSHEET_ID and GOOGLE_CREDENTIALS_JSON are required")
				}
				writer, err := export.NewSheetsWriter(c.Context, cfg.SheetsSpreadsheetID, cfg.GoogleCredentialsJSON)
				if err != nil {
					return err
				}
				if msg, err = run(writer); err != nil {
					return err
				}
			} else {
				err = writeFile(c.String("output"), func(w io.Writer) error {
					var werr error
					msg, werr = run(export.NewXLSXWriter(w))
					return werr
				})
				if err != nil {
					return err
				}
			}
			fmt.Fprintln(c.App.Writer, msg)
			return nil
		},
	}
}

func assetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "assets",
		Usage: "list stored assets with their date ranges",
		Action: func(c *cli.Context) error {
			st, err := openStore(c.Context, config.Load())
			if err != nil {
				return err
			}
			defer st.Close()

			names, err := st.assets.Assets(c.Context)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ASSET\tFROM\tTO")
			for _, name := range names {
				dr, err := st.assets.DateRange(c.Context, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, formatDate(dr.MinDate), formatDate(dr.MaxDate))
			}
			return tw.Flush()
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "show totals for the whole store",
		Action: func(c *cli.Context) error {
			st, err := openStore(c.Context, config.Load())
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := st.assets.Stats(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "records: %d\nassets: %d\nfrom: %s\nto: %s\n",
				s.TotalRecords, s.AssetsCount, formatDate(s.MinDate), formatDate(s.MaxDate))
			return nil
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "delete all stored data",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "confirm the reset"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return errors.New("refusing to reset without --yes")
			}
			st, err := openStore(c.Context, config.Load())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.assets.Reset(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "all asset data deleted")
			return nil
		},
	}
}

func readInput(c *cli.Context) ([]domain.PriceRecord, error) {
	path := c.Args().First()
	if path == "" {
		return nil, errors.New("input spreadsheet path is required")
	}
	return workbook.ReadFile(path)
}

func policyFlag(c *cli.Context) domain.MissingPolicy {
	return domain.PolicyFor(!c.Bool("propagate-missing"))
}

func writeWorkbook(c *cli.Context, path string, sheets []export.Sheet) error {
	err := writeFile(path, func(w io.Writer) error {
		return export.NewXLSXWriter(w).Write(c.Context, sheets)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}

// writeFile creates path and runs write against it. A failed close is
// reported like a failed write.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	return closeOutput(f, write(f))
}

// closeOutput closes c and returns err, or the close error when err is nil.
func closeOutput(c io.Closer, err error) error {
	cerr := c.Close()
	if err != nil {
		return err
	}
	if cerr != nil {
		return fmt.Errorf("closing output: %w", cerr)
	}
	return nil
}
