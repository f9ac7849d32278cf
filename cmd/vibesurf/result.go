package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/controlplane"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/render"
)

var (
	kindStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	statusColors = map[models.TaskStatus]string{
		models.TaskStatusPending:   "11",
		models.TaskStatusRunning:   "12",
		models.TaskStatusPaused:    "13",
		models.TaskStatusCompleted: "10",
		models.TaskStatusFailed:    "9",
		models.TaskStatusStopped:   "8",
	}
)

func statusStyled(s models.TaskStatus) string {
	color, ok := statusColors[s]
	if !ok {
		return string(s)
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(string(s))
}

func runTaskResult(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/result")
	if err != nil {
		return err
	}

	var result controlplane.TaskResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Printf("Task:   %s\n", truncateID(result.TaskID))
	fmt.Printf("Status: %s\n", statusStyled(result.Status))
	fmt.Printf("Kind:   %s\n\n", kindStyle.Render(string(result.Render.Kind)))

	printRender(result.Render)
	return nil
}

// printRender displays one classified result on the terminal.
func printRender(rk render.RenderKind) {
	switch rk.Kind {
	case render.KindText:
		fmt.Println(rk.Text)

	case render.KindTabular:
		printRows(rk.Rows)

	case render.KindObject:
		pretty, err := json.MarshalIndent(rk.Object, "", "  ")
		if err != nil {
			fmt.Printf("%v\n", rk.Object)
			return
		}
		fmt.Println(string(pretty))

	case render.KindMedia:
		m := rk.Media
		fmt.Printf("Media:    %s\n", m.MediaType)
		fmt.Printf("Path:     %s\n", m.Path)
		if m.Alt != "" {
			fmt.Printf("Alt:      %s\n", m.Alt)
		}
		if m.MediaType == "video" {
			fmt.Printf("Controls: %v  Autoplay: %v  Loop: %v\n", m.ShowControls, m.AutoPlay, m.Loop)
		}

	case render.KindError:
		fmt.Println(errorStyle.Render(rk.Message))
		if rk.Trace != "" {
			fmt.Println(dimStyle.Render(rk.Trace))
		}

	case render.KindStreamUnsupported:
		fmt.Println(dimStyle.Render("Streaming results cannot be displayed here"))

	case render.KindNone:
		fmt.Println(dimStyle.Render("No result recorded"))

	default:
		fmt.Printf("%#v\n", rk)
	}
}

// printRows lays tabular rows out with a shared column set, collected from
// every row so ragged objects still line up.
func printRows(rows []interface{}) {
	if len(rows) == 0 {
		fmt.Println(dimStyle.Render("0 rows"))
		return
	}

	colSet := map[string]bool{}
	objects := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		obj, ok := r.(map[string]interface{})
		if !ok {
			obj = map[string]interface{}{"value": r}
		}
		objects = append(objects, obj)
		for k := range obj {
			colSet[k] = true
		}
	}

	cols := make([]string, 0, len(colSet))
	for k := range colSet {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := ""
	for i, c := range cols {
		if i > 0 {
			header += "\t"
		}
		header += c
	}
	fmt.Fprintln(w, header)

	for _, obj := range objects {
		line := ""
		for i, c := range cols {
			if i > 0 {
				line += "\t"
			}
			if v, ok := obj[c]; ok {
				line += fmt.Sprintf("%v", v)
			}
		}
		fmt.Fprintln(w, line)
	}
	w.Flush()
	fmt.Println(dimStyle.Render(fmt.Sprintf("%d rows", len(objects))))
}
