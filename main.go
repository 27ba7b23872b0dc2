package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "prism-todo",
		Short:         "Offline-first task board",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the YAML config file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(tasksCmd(&configPath))
	root.AddCommand(categoriesCmd(&configPath))
	root.AddCommand(cacheCmd(&configPath))
	root.AddCommand(storageCmd(&configPath))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
