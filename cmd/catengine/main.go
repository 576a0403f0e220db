package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "catengine",
		Short:         "Computerized adaptive testing engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")

	root.AddCommand(
		serveCMD(&cfgPath),
		recalibrateCMD(&cfgPath),
		migrateCMD(&cfgPath),
		policyCMD(&cfgPath),
		simulateCMD(&cfgPath),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
