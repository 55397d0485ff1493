package cli

import (
	"io"

	"github.com/spf13/cobra"
)

func newBackupCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <profile>",
		Short: "Push the profile's directory to the remote store as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(args[0])
			if err != nil {
				return err
			}
			res := newEngine(stderr).Backup(ctxOf(cmd), p)
			return finish(stdout, stderr, res)
		},
	}
}
