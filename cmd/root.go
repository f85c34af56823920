package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	fModel     string
	fScaleBits uint
)

var rootCmd = &cobra.Command{
	Use:   "zkml-prover",
	Short: "proves fixed-point model runs in gnark, chunk by chunk",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&fModel, "model", "", "path to the layer graph json")
	rootCmd.PersistentFlags().UintVar(&fScaleBits, "scale-bits", 16, "fixed-point fractional bits")
}
