package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"atlas/internal/collection"
	"atlas/internal/geo"
	"atlas/internal/source"
)

type rootView struct {
	Path     string     `json:"path"`
	State    string     `json:"state"`
	Sources  int        `json:"sources"`
	Invalid  int        `json:"invalid"`
	LastScan *time.Time `json:"last_scan,omitempty"`
}

type scanView struct {
	Generation uint64       `json:"generation"`
	Roots      []rootView   `json:"roots"`
	Sources    []sourceView `json:"sources"`
}

func rootViews(infos []collection.RootInfo) []rootView {
	views := make([]rootView, len(infos))
	for i, r := range infos {
		views[i] = rootView{Path: r.Path, State: r.State.String(), Sources: r.Sources, Invalid: r.Invalid}
		if !r.LastScan.IsZero() {
			t := r.LastScan
			views[i].LastScan = &t
		}
	}
	return views
}

func newScanCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [ROOT...]",
		Short: "Scan map data roots and list what was found",
		Long:  "Scan the given roots, or the configured ones when none are given, and list every map file found with its state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Roots = args
			}
			a, err := e.startApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			coll := a.Collection()
			p := newPrinter(cmd)
			srcs := coll.Sources()
			if p.isJSON() {
				view := scanView{Generation: coll.Generation(), Roots: rootViews(coll.Roots())}
				for _, s := range srcs {
					view.Sources = append(view.Sources, viewOf(s))
				}
				return p.json(view)
			}

			var rows [][]string
			for _, r := range coll.Roots() {
				rows = append(rows, []string{r.Path, r.State.String(), strconv.Itoa(r.Sources), strconv.Itoa(r.Invalid)})
			}
			p.table([]string{"ROOT", "STATE", "SOURCES", "INVALID"}, rows)
			_, _ = fmt.Fprintln(p.w)
			return p.sources(srcs)
		},
	}
}

func newQueryCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query --bbox minX,minY,maxX,maxY [--bbox ...]",
		Short: "List map files covering a region",
		Long:  "Scan the configured roots and list the valid map files whose extents intersect any of the given boxes. Edges count as intersecting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			boxes, _ := cmd.Flags().GetStringArray("bbox")
			if len(boxes) == 0 {
				return fmt.Errorf("at least one --bbox is required")
			}
			region := make(geo.Region, 0, len(boxes))
			for _, s := range boxes {
				b, err := geo.ParseBox(s)
				if err != nil {
					return err
				}
				region = append(region, b)
			}

			cfg, err := e.loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := e.startApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srcs, err := a.Collection().SourcesCovering(region)
			if err != nil {
				return err
			}
			return newPrinter(cmd).sources(srcs)
		},
	}
	cmd.Flags().StringArray("bbox", nil, "query box as minX,minY,maxX,maxY (repeatable)")
	return cmd
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show the metadata of one map file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verify, _ := cmd.Flags().GetBool("verify")
			s, err := source.New(args[0], source.Options{Verify: verify})
			if err != nil {
				return err
			}
			loadErr := s.Load()

			p := newPrinter(cmd)
			if p.isJSON() {
				if err := p.json(viewOf(s)); err != nil {
					return err
				}
			} else {
				p.kv(sourcePairs(s))
			}
			return loadErr
		},
	}
	return cmd
}
