// cmd/output.go
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

// withScheme defaults bare hosts such as "example.com/docs" to https.
func withScheme(target string) string {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if strings.Contains(target, "://") {
		return target
	}
	return "https://" + target
}

// writeJSON writes v as indented JSON to path, or to the command output when
// path is empty or "-".
func writeJSON(cmd *cobra.Command, path string, v interface{}) error {
	data, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		return write(cmd.OutOrStdout(), data)
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("could not expand output path: %w", err)
	}
	if dir := filepath.Dir(expanded); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(expanded, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", expanded)
	return nil
}

func write(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
