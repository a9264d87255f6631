package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"atlas/internal/style"
)

func newStyleCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "style",
		Short: "List and resolve render styles",
	}
	cmd.AddCommand(newStyleListCmd(e), newStyleResolveCmd(e))
	return cmd
}

// loadStyles fills a registry from the configured style directories.
func (e *env) loadStyles(cmd *cobra.Command) (*style.Registry, error) {
	cfg, err := e.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	reg := style.NewRegistry(e.Logger)
	if _, err := style.LoadDirs(reg, cfg.StyleDirs()...); err != nil {
		e.Logger.Warn("some styles failed to load", "error", err)
	}
	return reg, nil
}

type styleView struct {
	Name        string `json:"name"`
	Parent      string `json:"parent,omitempty"`
	Description string `json:"description,omitempty"`
	Origin      string `json:"origin,omitempty"`
	Rules       int    `json:"rules"`
}

func newStyleListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered styles",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := e.loadStyles(cmd)
			if err != nil {
				return err
			}
			var views []styleView
			for _, name := range reg.Names() {
				def, ok := reg.Definition(name)
				if !ok {
					continue
				}
				views = append(views, styleView{
					Name:        def.Name,
					Parent:      def.Parent,
					Description: def.Description,
					Origin:      def.Origin,
					Rules:       len(def.Rules),
				})
			}
			p := newPrinter(cmd)
			if p.isJSON() {
				return p.json(views)
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{v.Name, v.Parent, v.Description, v.Origin})
			}
			p.table([]string{"NAME", "PARENT", "DESCRIPTION", "ORIGIN"}, rows)
			return nil
		},
	}
}

func newStyleResolveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve NAME",
		Short: "Print the effective rules of a style after inheritance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := e.loadStyles(cmd)
			if err != nil {
				return err
			}
			res, err := reg.Resolve(args[0])
			if err != nil {
				return err
			}
			p := newPrinter(cmd)
			if p.isJSON() {
				return p.json(struct {
					Name  string            `json:"name"`
					Chain []string          `json:"chain"`
					Rules map[string]string `json:"rules"`
				}{res.Name, res.Chain, res.Rules})
			}
			pairs := [][2]string{{"Style", res.Name}, {"Chain", strings.Join(res.Chain, " <- ")}}
			for _, k := range res.Keys() {
				v, _ := res.Get(k)
				pairs = append(pairs, [2]string{k, v})
			}
			p.kv(pairs)
			return nil
		},
	}
}
