package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wbibile/LetsConfide/pkg/letsconfide"
)

var parseCmd = &cobra.Command{
	Use:   "parse <config-file>",
	Short: "Seal a plaintext config in place, or verify an already-sealed one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := letsconfide.Parse(args[0], options())
		if err != nil {
			return err
		}
		defer manager.Close()

		headers := manager.Headers()
		fmt.Printf("primaryKeyType:   %s\n", headers.PrimaryKeyType)
		fmt.Printf("storageKeyType:   %s\n", headers.StorageKeyType)
		fmt.Printf("ephemeralKeyType: %s\n", headers.EphemeralKeyType)
		fmt.Printf("pcrSelection:     %d\n", headers.PCRSelection)
		fmt.Printf("pcrHash:          %s\n", headers.PCRHash)
		return nil
	},
}
