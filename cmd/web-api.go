package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ray-project/distributed-zkml/distributed"
)

var fListen string

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "web-api",
	Short: "runs a web server proving chunk jobs posted by an orchestrator",
	Run:   runApi,
}

func runApi(cmd *cobra.Command, args []string) {
	router := distributed.NewServer(distributed.NewLocalWorker())
	router.Run(fListen)
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringVar(&fListen, "listen", "0.0.0.0:8010", "listen address")
}
