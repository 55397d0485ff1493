package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newProfilesCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the configured backup profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := loadProfilesFn()
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				fmt.Fprintln(stdout, "no profiles configured")
				return nil
			}
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tURI\tDIR\tKEEP")
			for _, p := range profiles {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", p.Name, p.URI(), p.LocalDir, p.Keep)
			}
			return tw.Flush()
		},
	}
}
