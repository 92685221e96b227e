package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aimediator/mediator/internal/debug"
	"github.com/aimediator/mediator/internal/mediation"
	"github.com/aimediator/mediator/internal/types"
	"github.com/aimediator/mediator/internal/ui"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}

func outputYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

// emit prints v as JSON when --json is set, otherwise the text line.
func emit(v any, format string, args ...any) {
	if jsonOutput {
		outputJSON(v)
		return
	}
	debug.PrintNormal(os.Stdout, format, args...)
}

func renderer() ui.Renderer {
	return ui.NewRenderer(ui.ShouldUseColor())
}

func stateLabel(r ui.Renderer, s types.State) string {
	switch s {
	case types.StateOpen:
		return r.Accent(string(s))
	case types.StateClosed:
		return r.Warn(string(s))
	default:
		return r.Pass(string(s))
	}
}

func writeReport(w io.Writer, rep *mediation.Report) {
	r := renderer()
	m := rep.Mediation
	fmt.Fprintf(w, "%s %s\n", r.Category("mediation"), m.Title)
	fmt.Fprintf(w, "  key:   %s\n", rep.JointKey)
	fmt.Fprintf(w, "  state: %s\n", stateLabel(r, m.State))
	fmt.Fprintf(w, "%s (%d)\n", r.Category("participants"), len(rep.Entries))
	for _, e := range rep.Entries {
		var marks []string
		if e.HasPerspective {
			marks = append(marks, r.Pass(ui.IconPass+" perspective"))
		} else {
			marks = append(marks, r.Muted(ui.IconWait+" perspective"))
		}
		if e.HasAnswer {
			marks = append(marks, r.Pass(ui.IconPass+" answer"))
		}
		fmt.Fprintf(w, "  %d %s\n", e.UserID, e.DisplayName)
		fmt.Fprintf(w, "    %s%s\n", ui.TreeLast, strings.Join(marks, "  "))
	}
}
