package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/spf13/cobra"
)

// ErrInvalidDefinition is returned when at least one of the validated files is not a valid definition.
var ErrInvalidDefinition = errors.New("invalid process definition")

// ValidationResult holds the outcome for one definition file.
type ValidationResult struct {
	File    string `json:"file"`
	Id      string `json:"id,omitempty"`
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate <file>...",
		Short:         "Validate YAML process definitions without running them",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: rootOpts.Verbose}
			return runValidate(formatter, args)
		},
	}
}

func runValidate(formatter *OutputFormatter, files []string) error {
	results := make([]ValidationResult, 0, len(files))
	var lines []string
	valid := true
	for _, file := range files {
		formatter.VerboseLog("Validating %s", file)
		result := ValidationResult{File: file, Valid: true}
		definition, err := model.LoadFromFile(file)
		if err != nil {
			result.Valid = false
			result.Message = err.Error()
			valid = false
			lines = append(lines, fmt.Sprintf("%s: INVALID %s", file, err))
		} else {
			result.Id = definition.Id
			lines = append(lines, fmt.Sprintf("%s: OK (%s)", file, definition.Id))
		}
		results = append(results, result)
	}
	if err := formatter.Write(results, strings.Join(lines, "\n")); err != nil {
		return err
	}
	if !valid {
		return ErrInvalidDefinition
	}
	return nil
}
