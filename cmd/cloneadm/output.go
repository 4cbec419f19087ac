package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// Output format constants.
const (
	outputFormatJSON  = "json"
	outputFormatYAML  = "yaml"
	outputFormatTable = "table"
)

var errUnknownOutputFormat = errors.New("unknown output format")

// taskInfo mirrors pkg/frontend's taskResponse DTO.
type taskInfo struct {
	TaskId      string    `json:"taskId"      yaml:"taskId"`
	User        string    `json:"user"        yaml:"user"`
	TaskType    string    `json:"taskType"    yaml:"taskType"`
	Source      string    `json:"source"      yaml:"source"`
	Destination string    `json:"destination" yaml:"destination"`
	FileType    string    `json:"fileType"    yaml:"fileType"`
	IsLazy      bool      `json:"isLazy"      yaml:"isLazy"`
	Status      string    `json:"status"      yaml:"status"`
	NextStep    string    `json:"nextStep"    yaml:"nextStep"`
	Progress    uint32    `json:"progress"    yaml:"progress"`
	CreateTime  time.Time `json:"createTime"  yaml:"createTime"`
}

var (
	colorHeader  = color.New(color.FgWhite, color.Bold)
	colorSuccess = color.New(color.FgGreen)
	colorError   = color.New(color.FgRed)
	colorWarning = color.New(color.FgYellow)
	colorMuted   = color.New(color.Faint)
)

// statusBadge returns a colored task status.
func statusBadge(status string) string {
	switch status {
	case "Done":
		return colorSuccess.Sprint(status)
	case "Error":
		return colorError.Sprint(status)
	case "Cloning", "Cleaning":
		return colorWarning.Sprint(status)
	default:
		return status
	}
}

// newStyledTable creates a pre-configured go-pretty table with StyleLight
// base, upper-cased left-aligned headers, no border, and no row separators.
func newStyledTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)

	style := table.StyleLight
	style.Options.SeparateRows = false
	style.Options.DrawBorder = false
	style.Options.SeparateColumns = true
	style.Format.Header = text.FormatUpper
	style.Format.HeaderAlign = text.AlignLeft
	t.SetStyle(style)

	return t
}

// outputTasks renders tasks in the requested format.
func outputTasks(tasks []taskInfo, format string) error {
	switch format {
	case outputFormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)

	case outputFormatYAML:
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		return enc.Encode(tasks)

	case outputFormatTable, "":
		t := newStyledTable()
		t.AppendHeader(table.Row{"TASK_ID", "TYPE", "SOURCE", "DESTINATION", "STATUS", "NEXT_STEP", "PROGRESS", "CREATED"})
		for _, ti := range tasks {
			t.AppendRow(table.Row{ti.TaskId, ti.TaskType, ti.Source, ti.Destination, statusBadge(ti.Status), ti.NextStep, fmt.Sprintf("%d%%", ti.Progress), ti.CreateTime.Format(time.RFC3339)})
		}
		t.Render()
		return nil

	default:
		return fmt.Errorf("%w: %s", errUnknownOutputFormat, format)
	}
}

// outputTask renders one task in the requested format.
func outputTask(ti taskInfo, format string) error {
	switch format {
	case outputFormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ti)

	case outputFormatYAML:
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		return enc.Encode(ti)

	case outputFormatTable, "":
		t := newStyledTable()
		t.AppendRow(table.Row{"Task ID", ti.TaskId})
		t.AppendRow(table.Row{"User", ti.User})
		t.AppendRow(table.Row{"Type", ti.TaskType})
		t.AppendRow(table.Row{"Source", ti.Source})
		t.AppendRow(table.Row{"Destination", ti.Destination})
		t.AppendRow(table.Row{"File type", ti.FileType})
		t.AppendRow(table.Row{"Lazy", ti.IsLazy})
		t.AppendRow(table.Row{"Status", statusBadge(ti.Status)})
		t.AppendRow(table.Row{"Next step", ti.NextStep})
		t.AppendRow(table.Row{"Progress", fmt.Sprintf("%d%%", ti.Progress)})
		t.AppendRow(table.Row{"Created", ti.CreateTime.Format(time.RFC3339)})
		t.Render()
		return nil

	default:
		return fmt.Errorf("%w: %s", errUnknownOutputFormat, format)
	}
}
