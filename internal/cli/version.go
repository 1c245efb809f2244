package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/satchel/pkg/satchel"
)

const modulePath = "github.com/mesh-intelligence/satchel"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the satchel version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "satchel v%s\nmodule: %s\n", satchel.VersionString(), modulePath)
			return nil
		},
	}
}
