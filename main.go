package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	model   string
	addr    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "askh",
		Short: "Describe an app, watch it being built",
		Long: `askh turns a natural-language description into a running web app.
A language model writes the files, every response becomes a checkpoint you
can restore or revert to, and a local sandbox keeps a live preview running
with install, build and runtime errors classified for one-click repair.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&model, "model", "", "model to use (default is qwen2.5-coder:7b)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket server and sandbox previews",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (default is 127.0.0.1:5180)")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(newExportCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("askh version %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
