package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/output"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize a tally workspace",
	Long:    `Creates the local .tally directory and SQLite database.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		if _, err := os.Stat(filepath.Join(baseDir, ".tally")); err == nil {
			output.Warning(".tally/ already exists")
			return nil
		}

		database, err := db.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize database: %v", err)
			return err
		}
		defer database.Close()

		fmt.Println("INITIALIZED .tally/")

		addToGitignore(filepath.Join(baseDir, ".gitignore"))
		return nil
	},
}

func addToGitignore(path string) {
	content, _ := os.ReadFile(path)
	contentStr := string(content)

	if strings.Contains(contentStr, ".tally/") {
		return
	}
	// Only append when a .gitignore already exists; don't create one in
	// non-git directories.
	if _, err := os.Stat(path); err != nil {
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	if len(contentStr) > 0 && !strings.HasSuffix(contentStr, "\n") {
		f.WriteString("\n")
	}
	f.WriteString(".tally/\n")
	fmt.Println("Added .tally/ to .gitignore")
}

func init() {
	rootCmd.AddCommand(initCmd)
}
