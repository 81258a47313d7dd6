// serena-migrate upgrades on-disk serena state: it copies any legacy
// in-project .serena directory's contents into the centralized store
// and regenerates missing project.yml files. State only ever moves
// toward the centralized store, never back into a project.
//
// Exit code 0 means every step succeeded; any failed step yields 1.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/serena/internal/config"
	"github.com/ternarybob/serena/internal/logger"
	"github.com/ternarybob/serena/internal/project"
	"github.com/ternarybob/serena/internal/store"
)

var flagConfig string

func main() {
	root := &cobra.Command{
		Use:           "serena-migrate [project-root...]",
		Short:         "Migrate legacy in-project .serena state into the centralized store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runMigrate,
	}
	root.Flags().StringVar(&flagConfig, "config", "", "path to serena_config.yml")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "serena-migrate:", err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	configPath := flagConfig
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg)
	defer logger.Stop()

	st := store.New(cfg.Service.Home)

	// Roots to migrate: explicit arguments, plus every registered
	// project in the store.
	roots := append([]string{}, args...)
	known, err := st.ListProjects()
	if err != nil {
		return err
	}
	for _, p := range known {
		roots = append(roots, p.Root)
	}

	failed := 0
	seen := make(map[string]bool)
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := migrateProject(st, abs); err != nil {
			log.Warn().Err(err).Str("root", abs).Msg("migration step failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d migration step(s) failed", failed)
	}
	log.Info().Int("projects", len(seen)).Msg("migration complete")
	return nil
}

// migrateProject copies one project's legacy state to the
// centralized store. The legacy directory is left in place (its
// existence never alters behavior); overwritten centralized files are
// backed up first.
func migrateProject(st *store.Store, root string) error {
	id := project.IDFor(root)
	if err := st.EnsureProjectDir(id); err != nil {
		return err
	}

	// Regenerate a missing project.yml from defaults.
	if _, err := st.LoadProjectConfig(id); err != nil {
		p := project.New(root, detectLanguagesShallow(root))
		if err := st.SaveProjectConfig(p); err != nil {
			return err
		}
	}

	legacy := filepath.Join(root, ".serena")
	info, err := os.Stat(legacy)
	if err != nil || !info.IsDir() {
		return nil // nothing legacy to migrate
	}

	// Legacy memories → centralized memories.
	memDir := filepath.Join(legacy, "memories")
	entries, err := os.ReadDir(memDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		data, err := os.ReadFile(filepath.Join(memDir, entry.Name()))
		if err != nil {
			return err
		}
		// Back up a centralized note before overwriting it.
		if existing, err := st.ReadMemory(id, name); err == nil && existing != string(data) {
			backup := fmt.Sprintf("%s.backup-%s", name, time.Now().Format("20060102-150405"))
			if err := st.WriteMemory(id, backup, existing); err != nil {
				return err
			}
		}
		if err := st.WriteMemory(id, name, string(data)); err != nil {
			return err
		}
	}
	return nil
}

// detectLanguagesShallow is the migration utility's cheap language
// guess: extensions present in the top two directory levels.
func detectLanguagesShallow(root string) []string {
	counts := map[string]int{}
	exts := map[string]string{".go": "go", ".py": "python", ".pyi": "python", ".md": "markdown"}

	_ = filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		if info.IsDir() {
			if strings.Count(rel, string(filepath.Separator)) >= 2 || info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if tag, ok := exts[filepath.Ext(p)]; ok {
			counts[tag]++
		}
		return nil
	})

	best, bestN := "markdown", 0
	for tag, n := range counts {
		if n > bestN {
			best, bestN = tag, n
		}
	}
	if best == "markdown" {
		return []string{"markdown"}
	}
	return []string{best, "markdown"}
}
