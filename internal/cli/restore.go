package cli

import (
	"io"

	"github.com/spf13/cobra"
)

func newRestoreCmd(stdout, stderr io.Writer) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <profile>",
		Short: "Pull the newest remote version into the profile's directory",
		Long: "Pull the newest remote version into the profile's directory, overwriting\n" +
			"its contents. Refused when the directory has no restore marker, which means\n" +
			"it holds live data; pass --force to overwrite it anyway.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(args[0])
			if err != nil {
				return err
			}
			res := newEngine(stderr).Restore(ctxOf(cmd), p, force)
			return finish(stdout, stderr, res)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Restore even when the directory has no restore marker")
	return cmd
}
