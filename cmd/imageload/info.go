package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"lukechampine.com/blake3"

	"github.com/Skryldev/image-loader/core"
)

var infoCmd = &cobra.Command{
	Use:   "info KEY...",
	Short: "Decode images and print their shape and a digest of the pixels",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := state.store(ctx)
	if err != nil {
		return err
	}

	jobs := make([]core.Job, 0, len(args))
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	var failed int
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFORMAT\tSIZE\tDEPTH\tBYTES\tBLAKE3")
	for _, key := range args {
		rc, err := store.Open(ctx, core.StorageKey{Path: key})
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t%v\n", key, err)
			failed++
			continue
		}
		closers = append(closers, rc)
		jobs = append(jobs, core.Job{Source: core.Source{Reader: rc, Name: key, Size: -1}})
	}

	for i, res := range state.loader.Batch(ctx, jobs) {
		name := jobs[i].Source.Name
		if res.Err != nil {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t%v\n", name, res.Format, res.Err)
			failed++
			continue
		}
		img := res.Raster
		sum := blake3.Sum256(img.Pix())
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%d\t%d\t%s\n",
			name, res.Format, img.Width(), img.Height(), img.Depth(), img.Len(), hex.EncodeToString(sum[:16]))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed to decode", failed, len(args))
	}
	return nil
}
