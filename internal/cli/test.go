package cli

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/talon/internal/harness"
	"github.com/roach88/talon/internal/ir"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string
	Pass   bool
	Errors []string
}

func (r ScenarioResult) toIR() ir.IRObject {
	obj := ir.IRObject{"name": ir.IRString(r.Name), "pass": ir.IRBool(r.Pass)}
	if len(r.Errors) > 0 {
		obj["errors"] = ir.Strings(r.Errors)
	}
	return obj
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult
	Passed    int
	Failed    int
}

func (r TestResult) toIR() ir.IRObject {
	scenarios := make(ir.IRArray, len(r.Scenarios))
	for i, s := range r.Scenarios {
		scenarios[i] = s.toIR()
	}
	return ir.IRObject{
		"scenarios": scenarios,
		"passed":    ir.IRInt(r.Passed),
		"failed":    ir.IRInt(r.Failed),
		"total":     ir.IRInt(len(r.Scenarios)),
		"pass":      ir.IRBool(r.Failed == 0),
	}
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-file-or-dir>",
		Short: "Run scenario files",
		Long: `Run YAML scenarios against a fresh temporary root with a mock clock.

Each scenario checks its step expectations and trace assertions. When
golden/<name>.golden exists next to the scenario, the trace must match it
byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  talon test ./scenarios
  talon test ./scenarios --filter "kv_*"
  talon test ./scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	if _, err := os.Stat(path); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", path))
	}

	files, err := findScenarioFiles(path, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	w := cmd.OutOrStdout()
	var result TestResult
	for _, file := range files {
		r := runScenario(opts, file)
		result.Scenarios = append(result.Scenarios, r)
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}

		if opts.Format == "json" {
			continue
		}
		if r.Pass {
			suffix := ""
			if opts.Update {
				suffix = " (golden updated)"
			}
			fmt.Fprintf(w, "✓ %s%s\n", r.Name, suffix)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", r.Name)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	var failed error
	if result.Failed > 0 {
		failed = fmt.Errorf("%d scenario(s) failed", result.Failed)
	}
	if opts.Format == "json" {
		// The summary is printed even when scenarios fail; the exit code
		// carries the verdict.
		if err := opts.formatter(cmd).Result(result.toIR(), nil); err != nil {
			return err
		}
		if failed != nil {
			return WrapExitError(ExitFailure, "test failed", failed)
		}
		return nil
	}

	if len(files) == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n",
		result.Passed, result.Failed, len(result.Scenarios))
	if failed != nil {
		return WrapExitError(ExitFailure, "test failed", failed)
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}

// findScenarioFiles returns path itself when it is a file, otherwise every
// .yaml and .yml file below it whose base name matches filter.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

func runScenario(opts *TestOptions, file string) ScenarioResult {
	fail := func(name string, format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), "failed to load scenario: %v", err)
	}
	result, err := harness.Run(scenario)
	if err != nil {
		return fail(scenario.Name, "execution failed: %v", err)
	}
	snapshot, err := harness.Snapshot(scenario.Name, result.Trace)
	if err != nil {
		return fail(scenario.Name, "failed to marshal trace: %v", err)
	}

	golden := goldenFilePath(file)
	if opts.Update {
		if err := os.MkdirAll(filepath.Dir(golden), 0o755); err != nil {
			return fail(scenario.Name, "failed to create golden directory: %v", err)
		}
		if err := os.WriteFile(golden, snapshot, 0o644); err != nil {
			return fail(scenario.Name, "failed to write golden file: %v", err)
		}
	} else if want, err := os.ReadFile(golden); err == nil {
		if !bytes.Equal(want, snapshot) {
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	} else if !os.IsNotExist(err) {
		return fail(scenario.Name, "failed to read golden file: %v", err)
	}

	return ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}
