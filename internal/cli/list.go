package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/thrash/internal/workload"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered stressors and whether this host can run them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeStressorList(cmd.OutOrStdout(), workload.All())
		},
	}
}

func writeStressorList(w io.Writer, stressors []workload.Stressor) error {
	renderer := lipgloss.NewRenderer(w)
	name := renderer.NewStyle().Bold(true)
	ok := renderer.NewStyle().Foreground(lipgloss.Color("2"))
	skip := renderer.NewStyle().Foreground(lipgloss.Color("3"))

	var b strings.Builder
	for i, s := range stressors {
		if i > 0 {
			b.WriteByte('\n')
		}
		status := ok.Render("supported")
		if err := s.Probe(); err != nil {
			var unsupported *workload.UnsupportedError
			if errors.As(err, &unsupported) {
				status = skip.Render("unsupported: " + unsupported.Reason)
			} else {
				status = skip.Render("probe failed: " + err.Error())
			}
		}
		fmt.Fprintf(&b, "%s  %s\n", name.Render(s.Name), status)
		if s.Help != "" {
			fmt.Fprintf(&b, "  %s\n", s.Help)
		}
		for _, kind := range s.Kinds {
			fmt.Fprintf(&b, "  - %s\n", kind)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
