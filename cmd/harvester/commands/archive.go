package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"parcelharvest/internal/archive"
	"parcelharvest/internal/components/chrono"
	"parcelharvest/internal/portal"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var archiveDump string

func init() {
	archiveCmd.Flags().StringVar(&archiveDump, "dump", "", "Write the raw html of the page archived under this url to stdout.")
	rootCmd.AddCommand(archiveCmd)
}

// listPages renders the unexpired pages archived for a parcel.
func listPages(ctx context.Context, w io.Writer, a *archive.Archive, loc *time.Location, id string) error {
	pages, err := a.List(ctx, id)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("%w: %s", archive.ErrPageNotFound, id)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Url", "Size", "Fetched", "Expires"})
	for _, p := range pages {
		expires := "never"
		if p.ExpiresAt > 0 {
			expires = time.Unix(p.ExpiresAt, 0).In(loc).Format(time.DateTime)
		}
		t.AppendRow(table.Row{
			p.Url,
			len(p.Contents),
			time.Unix(p.FetchedAt, 0).In(loc).Format(time.DateTime),
			expires,
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

func dumpPage(ctx context.Context, w io.Writer, a *archive.Archive, id, rawUrl string) error {
	pageUrl, err := url.Parse(rawUrl)
	if err != nil {
		return fmt.Errorf("parse --dump: %w", err)
	}
	p, err := a.Get(ctx, id, pageUrl)
	if err != nil {
		return err
	}
	_, err = w.Write(p.Contents)
	return err
}

var archiveCmd = &cobra.Command{
	Use:   "archive PARCEL_ID [--dump URL]",
	Short: "Lists (or dumps) the raw portal pages archived for a parcel.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !portal.ValidIdentifier(id) {
			return fmt.Errorf("'%s' is not a 12 digit parcel id", id)
		}

		cfg, err := readConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.Archive.Dir == "" {
			return errors.New("no archive configured, set archive.dir")
		}
		clock, err := chrono.NewStandardImpl()
		if err != nil {
			return err
		}

		a, err := archive.Open(cfg.Archive.Dir, time.Duration(cfg.Archive.TtlHours)*time.Hour, clock)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer a.Close()

		if archiveDump != "" {
			return dumpPage(cmd.Context(), os.Stdout, a, id, archiveDump)
		}
		return listPages(cmd.Context(), os.Stdout, a, clock.Location(), id)
	},
}
