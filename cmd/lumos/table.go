package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/user/lumos/internal/state"
	"github.com/user/lumos/internal/usecase"
)

const maxCellWidth = 60

// printStates writes the per-URL states and the session counters.
func printStates(out io.Writer, states []state.ImageState, stats usecase.PipelineStats) {
	if len(states) == 0 {
		fmt.Fprintln(out, "No candidate images found")
	} else {
		tw := table.NewWriter()
		tw.SetOutputMirror(out)
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"Image", "Status", "Description / Error", "Updated"})
		for _, st := range states {
			detail := st.AltText
			if st.Status == state.StatusError {
				detail = st.LastError
			}
			tw.AppendRow(table.Row{st.URL, string(st.Status), detail, st.UpdatedAt.Local().Format(time.TimeOnly)})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, WidthMax: maxCellWidth},
			{Number: 2, Align: text.AlignLeft},
			{Number: 3, WidthMax: maxCellWidth},
		})
		tw.Render()
	}
	fmt.Fprintf(out, "Requested: %d  Succeeded: %d  Failed: %d  Unique URLs: %d\n",
		stats.Requested, stats.Succeeded, stats.Failed, stats.UniqueURLs)
}
