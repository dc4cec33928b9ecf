package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"clinicalcore/pkg/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stageLabel(stage domain.MigrationStage) string {
	switch stage {
	case domain.StageCompleted:
		return color.New(color.FgGreen).Sprint(stage)
	case domain.StageFailed:
		return color.New(color.FgRed).Sprint(stage)
	default:
		return color.New(color.FgYellow).Sprint(stage)
	}
}

func printMigration(w io.Writer, m domain.DictionaryMigration) {
	mode := ""
	if m.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "Migration %s%s: %s -> %s [%s/%s]\n", m.ID, mode, m.FromVersion, m.ToVersion, m.State, stageLabel(m.Stage))
	fmt.Fprintf(w, "  donors: %d processed, %d valid, %d invalid\n",
		m.Stats.TotalProcessed, m.Stats.ValidDocumentsCount, m.Stats.InvalidDocumentsCount)
	fmt.Fprintf(w, "  submissions: %d checked, %d invalidated\n", len(m.CheckedSubmissions), len(m.InvalidSubmissions))
	if len(m.ProgramsWithDonorUpdates) > 0 {
		fmt.Fprintf(w, "  programs updated: %v\n", m.ProgramsWithDonorUpdates)
	}
	if m.ErrorMessage != "" {
		fmt.Fprintf(w, "  error: %s\n", color.New(color.FgRed).Sprint(m.ErrorMessage))
	}
	for entity, problems := range m.NewSchemaErrors {
		fmt.Fprintf(w, "  %s %s: missing fields %v, code list gaps %d, value type changes %v\n",
			color.New(color.FgRed).Sprint("INVALID"), entity, problems.MissingFields, len(problems.InvalidFieldCodeLists), problems.ValueTypeChanges)
	}
}
