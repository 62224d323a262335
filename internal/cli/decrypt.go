package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wbibile/LetsConfide/pkg/letsconfide"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt <config-file> <name>",
	Short: "Decrypt a single value from a sealed config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := letsconfide.Parse(args[0], options())
		if err != nil {
			return err
		}
		defer manager.Close()

		session, err := manager.StartDataAccessSession()
		if err != nil {
			return err
		}
		defer session.Close()

		value, err := session.Decrypt(args[1])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}
