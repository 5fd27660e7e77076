package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Skryldev/image-loader/core"
)

var rawCmd = &cobra.Command{
	Use:   "raw KEY",
	Short: "Decode one image and write its packed pixels to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRaw,
}

func init() {
	rawCmd.Flags().StringP("output", "o", "", "Output file (required)")
	_ = rawCmd.MarkFlagRequired("output")
}

func runRaw(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out, _ := cmd.Flags().GetString("output")

	store, err := state.store(ctx)
	if err != nil {
		return err
	}
	img, format, err := state.loader.DecodeObject(ctx, store, core.StorageKey{Path: args[0]})
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, img.Pix(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %dx%d %dbpp, %d bytes -> %s\n",
		args[0], format, img.Width(), img.Height(), img.Depth(), img.Len(), out)
	return nil
}
