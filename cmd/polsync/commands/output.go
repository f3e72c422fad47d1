package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/openfroyo/polsync/pkg/engine"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// operationSymbol marks an outcome line like a plan.
func operationSymbol(o engine.Outcome) string {
	switch {
	case o.Failed():
		return "!"
	case !o.Changed:
		return " "
	}
	switch o.Operation {
	case engine.OperationCreate:
		return "+"
	case engine.OperationUpdate:
		return "~"
	case engine.OperationDelete:
		return "-"
	}
	return " "
}

func printRun(w io.Writer, run *engine.Run) {
	mode := "apply"
	if run.DryRun {
		mode = "plan"
	}
	fmt.Fprintf(w, "Run %s (%s)\n\n", run.ID, mode)

	for _, o := range run.Outcomes {
		line := fmt.Sprintf("%s %s", operationSymbol(o), o.Key)
		if o.Container != "" {
			line += fmt.Sprintf(" [%s]", o.Container)
		}
		if o.Operation != "" {
			line += fmt.Sprintf(" %s", o.Operation)
		}
		fmt.Fprintln(w, line)

		if o.Failed() {
			fmt.Fprintf(w, "    error: %s\n", o.Error)
			continue
		}
		for _, c := range o.Changes {
			printChange(w, c)
		}
	}

	s := run.Summary
	fmt.Fprintf(w, "\n%s: %d created, %d updated, %d deleted, %d unchanged, %d failed (%s)\n",
		run.Status, s.Created, s.Updated, s.Deleted, s.Unchanged, s.Failed,
		run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))

	if run.DryRun {
		destructive := 0
		for _, o := range run.Outcomes {
			if o.Changed && !o.Failed() && o.Operation.IsDestructive() {
				destructive++
			}
		}
		if destructive > 0 {
			fmt.Fprintf(w, "warning: applying this plan deletes %d resources\n", destructive)
		}
	}
}

func printChange(w io.Writer, c engine.Change) {
	switch c.Action {
	case engine.ChangeActionAdd:
		fmt.Fprintf(w, "    + %s = %s\n", c.Path, formatValue(c.After))
	case engine.ChangeActionRemove:
		fmt.Fprintf(w, "    - %s = %s\n", c.Path, formatValue(c.Before))
	default:
		fmt.Fprintf(w, "    ~ %s: %s -> %s\n", c.Path, formatValue(c.Before), formatValue(c.After))
	}
}

func formatValue(v interface{}) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
