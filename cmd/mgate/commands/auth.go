package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meshgate/meshgate/pkg/credstore"
	"github.com/meshgate/meshgate/pkg/engine"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored credentials",
	}
	cmd.AddCommand(newAuthSetKeyCommand())
	cmd.AddCommand(newAuthStatusCommand())
	return cmd
}

func newAuthSetKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-key [key]",
		Short: "Store the mesh control plane API key",
		Long: `Store the mesh API key used for device, route, DNS, and policy calls.
The key is written to the user config directory with mode 0600. Pass the
key as an argument, or omit it to be prompted.`,
		Example: `  mgate auth set-key tskey-api-xxxxx`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				fmt.Fprint(cmd.OutOrStdout(), "Mesh API key: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return err
				}
				key = strings.TrimSpace(line)
			}
			if key == "" {
				return engine.NewRejectedError("empty API key", nil)
			}

			store, err := credstore.New()
			if err != nil {
				return err
			}
			if err := store.SetAPIKey(key); err != nil {
				return err
			}
			fmt.Println("mesh API key stored")
			return nil
		},
	}
	return cmd
}

func newAuthStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a mesh API key is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credstore.New()
			if err != nil {
				return err
			}
			key, err := store.GetAPIKey()
			if err != nil {
				return err
			}
			if key == "" {
				fmt.Println("no mesh API key stored")
				return nil
			}
			fmt.Println("mesh API key is stored")
			return nil
		},
	}
	return cmd
}
