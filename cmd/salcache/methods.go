package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivlev/salcache/internal/saliency"
)

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List available saliency methods",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := saliency.Options{External: cfg.External}
		for _, name := range saliency.Names(opts) {
			m, err := saliency.New(name, opts)
			if err != nil {
				return err
			}
			format, err := batchFormat(cfg, m)
			if err != nil {
				return err
			}
			fmt.Printf("%-16s %-10s %s\n", name, m.Kind(), format.Ext())
		}
		return nil
	},
}
