package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	errWriter    io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		errWriter:    cmd.ErrOrStderr(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && isTerminal(),
	}
}

func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data any) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...any) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...any) {
	o.colored(o.writer, ColorGreen, format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...any) {
	o.colored(o.writer, ColorYellow, format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...any) {
	o.colored(o.writer, ColorCyan, format, args...)
}

// Error prints an error message in red on stderr.
func (o *Output) Error(format string, args ...any) {
	o.colored(o.errWriter, ColorRed, format, args...)
}

func (o *Output) colored(w io.Writer, color, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if o.colorEnabled {
		fmt.Fprintf(w, "%s%s%s\n", color, msg, ColorReset)
	} else {
		fmt.Fprintln(w, msg)
	}
}

// Table writes tab-aligned rows under a header.
type Table struct {
	output  *Output
	headers []string
	rows    [][]string
}

// NewTable creates a new table.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{output: output, headers: headers}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render renders the table.
func (t *Table) Render() {
	tw := tabwriter.NewWriter(t.output.writer, 0, 0, 2, ' ', 0)
	header := strings.Join(t.headers, "\t")
	if t.output.colorEnabled {
		header = ColorBold + header + ColorReset
	}
	fmt.Fprintln(tw, header)
	for _, row := range t.rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}
