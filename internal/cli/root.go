// Package cli implements the letsconfide command-line tool: seal a
// plaintext config in place, then decrypt individual values from it.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/wbibile/LetsConfide/pkg/letsconfide"
	"github.com/wbibile/LetsConfide/pkg/logging"
)

var (
	useSimulator bool
	devicePath   string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "letsconfide",
	Short: "Seal and read TPM-protected application secrets",
	Long: `letsconfide seals a plaintext YAML config's values on first use,
binding them to the local TPM 2.0's PCR state, and decrypts them again
on demand without ever writing plaintext back to disk.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&useSimulator, "simulator", false,
		"use the in-memory software TPM instead of a physical device")
	rootCmd.PersistentFlags().StringVar(&devicePath, "device", "/dev/tpmrm0",
		"TPM character device path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose logging")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(decryptCmd)
}

func options() letsconfide.Options {
	return letsconfide.Options{
		UseSimulator: useSimulator,
		DevicePath:   devicePath,
		Logger:       logging.NewLogger(verbose),
	}
}
