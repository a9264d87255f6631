package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"atlas/internal/geo"
	"atlas/internal/mapfile"
)

func newPackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack INPUT OUTPUT --bbox minX,minY,maxX,maxY [--bbox ...]",
		Short: "Wrap a raw payload into a map file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			boxes, _ := cmd.Flags().GetStringArray("bbox")
			if len(boxes) == 0 {
				return fmt.Errorf("at least one --bbox is required")
			}
			var region geo.Region
			for _, s := range boxes {
				b, err := geo.ParseBox(s)
				if err != nil {
					return err
				}
				region = append(region, b)
			}
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[1]), filepath.Ext(args[1]))
			}
			dataVersion, _ := cmd.Flags().GetUint32("data-version")
			compress, _ := cmd.Flags().GetBool("compress")

			payload, err := os.ReadFile(filepath.Clean(args[0]))
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			err = mapfile.WriteFile(args[1], payload, mapfile.WriteOptions{
				Name:        name,
				DataVersion: dataVersion,
				Region:      region,
				Compress:    compress,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Packed %s (%d bytes, %s)\n", args[1], len(payload), region.Bounds())
			return nil
		},
	}
	cmd.Flags().String("name", "", "map name (default: output file name)")
	cmd.Flags().StringArray("bbox", nil, "extent as minX,minY,maxX,maxY (repeatable)")
	cmd.Flags().Uint32("data-version", 0, "data version recorded in the metadata")
	cmd.Flags().Bool("compress", false, "zstd-compress the payload")
	return cmd
}
