package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"atlas/internal/source"
)

// Output formats accepted by -o.
const (
	formatTable = "table"
	formatJSON  = "json"
)

// checkOutputFormat rejects -o values no command can render.
func checkOutputFormat(cmd *cobra.Command) error {
	f, _ := cmd.Flags().GetString("output")
	switch strings.ToLower(f) {
	case "", formatTable, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q: want %s or %s", f, formatTable, formatJSON)
}

// printer renders command results on the command's stdout, either as JSON
// or as aligned text.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(cmd *cobra.Command) *printer {
	f, _ := cmd.Flags().GetString("output")
	f = strings.ToLower(f)
	if f == "" {
		f = formatTable
	}
	return &printer{format: f, w: cmd.OutOrStdout()}
}

func (p *printer) isJSON() bool { return p.format == formatJSON }

// json writes v as two-space indented JSON followed by a newline.
func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) tabs() *tabwriter.Writer {
	return tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
}

// table prints header and rows as tab-aligned columns.
func (p *printer) table(header []string, rows [][]string) {
	tw := p.tabs()
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// kv prints one "Label:  value" line per pair with the values aligned.
func (p *printer) kv(pairs [][2]string) {
	tw := p.tabs()
	for _, pair := range pairs {
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", pair[0], pair[1])
	}
	_ = tw.Flush()
}

// sourceView is the JSON shape of a source.
type sourceView struct {
	Path        string       `json:"path"`
	State       string       `json:"state"`
	Name        string       `json:"name,omitempty"`
	DataVersion uint32       `json:"data_version,omitempty"`
	Created     *time.Time   `json:"created,omitempty"`
	Digest      string       `json:"digest,omitempty"`
	Compressed  bool         `json:"compressed,omitempty"`
	PayloadSize int64        `json:"payload_size,omitempty"`
	Extents     [][4]float64 `json:"extents,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func viewOf(s *source.Source) sourceView {
	v := sourceView{Path: s.Path(), State: s.State().String()}
	if err := s.Err(); err != nil {
		v.Error = err.Error()
	}
	if !s.Valid() {
		return v
	}
	created := s.Created()
	v.Name = s.Name()
	v.DataVersion = s.DataVersion()
	v.Created = &created
	v.Digest = fmt.Sprintf("%016x", s.Digest())
	v.Compressed = s.Compressed()
	v.PayloadSize = s.PayloadSize()
	for _, b := range s.Region() {
		v.Extents = append(v.Extents, b.Array())
	}
	return v
}

func (p *printer) sources(srcs []*source.Source) error {
	if p.isJSON() {
		views := make([]sourceView, len(srcs))
		for i, s := range srcs {
			views[i] = viewOf(s)
		}
		return p.json(views)
	}
	rows := make([][]string, 0, len(srcs))
	for _, s := range srcs {
		extent, detail := "", ""
		if s.Valid() {
			extent = s.Region().Bounds().String()
			detail = s.Name()
		} else if err := s.Err(); err != nil {
			detail = err.Error()
		}
		rows = append(rows, []string{s.Path(), s.State().String(), extent, detail})
	}
	p.table([]string{"PATH", "STATE", "EXTENT", "NAME/ERROR"}, rows)
	return nil
}

func sourcePairs(s *source.Source) [][2]string {
	v := viewOf(s)
	pairs := [][2]string{
		{"Path", v.Path},
		{"State", v.State},
	}
	if v.Error != "" {
		return append(pairs, [2]string{"Error", v.Error})
	}
	pairs = append(pairs,
		[2]string{"Name", v.Name},
		[2]string{"Format version", strconv.Itoa(int(s.FormatVersion()))},
		[2]string{"Data version", strconv.FormatUint(uint64(v.DataVersion), 10)},
		[2]string{"Created", v.Created.UTC().Format(time.RFC3339)},
		[2]string{"Digest", v.Digest},
		[2]string{"Compressed", strconv.FormatBool(v.Compressed)},
		[2]string{"Payload size", strconv.FormatInt(v.PayloadSize, 10)},
	)
	for i, b := range s.Region() {
		pairs = append(pairs, [2]string{"Extent[" + strconv.Itoa(i) + "]", b.String()})
	}
	return pairs
}
