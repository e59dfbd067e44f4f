package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivlev/salcache/internal/artifact"
	"github.com/ivlev/salcache/internal/cache"
)

var verifyPath string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash cached videos against their manifests",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := cfg.CachePath
		if cmd.Flags().Changed("saliency-path") {
			root = verifyPath
		}

		stores := map[string]*cache.Store{}
		storeFor := func(ext string) (*cache.Store, error) {
			if s, ok := stores[ext]; ok {
				return s, nil
			}
			format, err := artifact.FormatFromExt(ext)
			if err != nil {
				return nil, err
			}
			s := cache.New(root, cache.WithFormat(format))
			stores[ext] = s
			return s, nil
		}

		index := cache.New(root)
		videos, err := index.ListVideos()
		if err != nil {
			return err
		}

		bad := 0
		for _, name := range videos {
			v, err := verifyVideo(storeFor, name)
			switch {
			case err == nil && v.OK():
			case err != nil:
				fmt.Printf("[!] %s: %v\n", name, err)
				bad++
			case len(v.Missing) > 0:
				fmt.Printf("[!] %s: %d frames missing %v\n", name, len(v.Missing), v.Missing)
				bad++
			default:
				fmt.Printf("[!] %s: checksum mismatch\n", name)
				bad++
			}
		}
		fmt.Printf("[*] Verified %d videos under %s, %d bad\n", len(videos), index.Root(), bad)
		if bad > 0 {
			return fmt.Errorf("%d of %d videos failed verification", bad, len(videos))
		}
		return nil
	},
}

func verifyVideo(storeFor func(string) (*cache.Store, error), name string) (*cache.Verification, error) {
	base, err := storeFor(artifact.PNG.Ext())
	if err != nil {
		return nil, err
	}
	m, ok, err := base.ReadManifest(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("manifest disappeared")
	}
	s, err := storeFor(m.Ext)
	if err != nil {
		return nil, err
	}
	return s.VerifyManifest(name)
}

func init() {
	verifyCmd.Flags().StringVar(&verifyPath, "saliency-path", "", "root of the saliency cache (default from config)")
}
