package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"datadb/internal/engine"
	"datadb/internal/transport"
)

func newStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status <profile>",
		Short: "Show the remote versions stored for the profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(args[0])
			if err != nil {
				return err
			}
			res := newEngine(stderr).Status(ctxOf(cmd), p)
			if !res.OK() {
				return finish(stdout, stderr, res)
			}
			switch output {
			case "json":
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Versions)
			case "table", "":
				return renderStatus(stdout, res)
			default:
				return fmt.Errorf("unsupported --output: %s", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}

func renderStatus(w io.Writer, res engine.Result) error {
	if res.Latest == nil {
		fmt.Fprintln(w, "no backups found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCREATED\tSIZE")
	for _, v := range res.Versions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.ID, createdCol(v), sizeCol(v))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, res.Message)
	return nil
}

func createdCol(v transport.Version) string {
	if v.Created.IsZero() {
		return "-"
	}
	return v.Created.Format("2006-01-02 15:04:05 MST")
}

// sizeCol renders the advisory size; the rsync transport reports none.
func sizeCol(v transport.Version) string {
	if v.Size <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(v.Size))
}
