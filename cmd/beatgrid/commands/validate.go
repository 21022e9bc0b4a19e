package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/beatgrid/pkg/score"
)

// ErrInvalidScores is returned when at least one file fails validation.
var ErrInvalidScores = errors.New("invalid scores")

func (a *App) newValidateCommand() *cobra.Command {
	var colorize, nocolor, schema bool

	cmd := &cobra.Command{
		Use:   "validate <score.yaml>...",
		Short: "Check score files against the score schema",
		Long: `Check score files against the score schema and the rules the schema
cannot express, such as loop order and tempo point order.

Examples:
  beatgrid validate groove.yaml
  beatgrid validate scores/*.yaml
  beatgrid validate --schema > score-schema.json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if schema {
				return cobra.NoArgs(cmd, args)
			}

			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if nocolor {
				color.NoColor = true //nolint:reassign // intentional override of library global
			} else if colorize {
				color.NoColor = false //nolint:reassign // intentional override of library global
			}

			if schema {
				_, err := cmd.OutOrStdout().Write(score.Schema())
				if err != nil {
					return fmt.Errorf("write schema: %w", err)
				}

				return nil
			}

			return validateFiles(a.fs, cmd.OutOrStdout(), args)
		},
	}

	cmd.Flags().BoolVar(&colorize, "color", false, "force colored output")
	cmd.Flags().BoolVar(&nocolor, "no-color", false, "disable colored output")
	cmd.Flags().BoolVar(&schema, "schema", false, "print the score JSON schema and exit")

	return cmd
}

func validateFiles(fs afero.Fs, w io.Writer, paths []string) error {
	failed := 0

	for _, path := range paths {
		if !validateFile(fs, w, path) {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidScores, failed, len(paths))
	}

	return nil
}

// validateFile prints the verdict for one file and reports whether it passed.
func validateFile(fs afero.Fs, w io.Writer, path string) bool {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		color.New(color.FgRed).Fprintf(w, "%s: %v\n", path, err)

		return false
	}

	err = score.Validate(data)
	if err == nil {
		color.New(color.FgGreen).Fprintf(w, "%s: valid\n", path)

		return true
	}

	var verr *score.ValidationError
	if !errors.As(err, &verr) {
		color.New(color.FgRed).Fprintf(w, "%s: %v\n", path, err)

		return false
	}

	color.New(color.FgRed).Fprintf(w, "%s: %d problem(s)\n", path, len(verr.Problems))

	for _, problem := range verr.Problems {
		color.New(color.FgYellow).Fprintf(w, "  - %s\n", problem)
	}

	return false
}
