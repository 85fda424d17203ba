package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hkbot/internal/config"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of hkbot data (sqlite database, config, roster)",
		Long: `Creates a compressed .tar.gz archive containing the SQLite database,
the configuration file and the specialist roster. Postgres deployments
should use pg_dump instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if outputPath == "" {
				backupDir := filepath.Join(filepath.Dir(cfgPath), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(backupDir, fmt.Sprintf("hkbot-backup-%s.tar.gz", time.Now().Format("20060102-150405")))
			}

			files := backupFiles(cfg, cfgPath)
			if len(files) == 0 {
				return errors.New("no files to back up")
			}
			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, f := range files {
				var size uint64
				if info, err := os.Stat(f); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  - %s (%s)\n", filepath.Base(f), humanize.Bytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <config dir>/backups/hkbot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore hkbot data from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			targets := restoreTargets{config: cfgPath, dir: filepath.Dir(cfgPath)}
			if cfg, err := config.Load(cfgPath); err == nil {
				targets.db = cfg.Store.SQLitePath
				targets.people = cfg.Directory.Path
			}
			if targets.db == "" {
				targets.db = config.ExpandPath(config.Defaults().Store.SQLitePath)
			}

			if !force {
				for _, p := range []string{targets.db, targets.config} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s exists, restore aborted (use --force to overwrite)", p)
					}
				}
			}

			restored, err := extractTarGz(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restored %d file(s) from %s\n", len(restored), args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data")
	return cmd
}

// backupFiles lists the existing files worth archiving.
func backupFiles(cfg *config.Config, cfgPath string) []string {
	candidates := []string{cfgPath, cfg.Directory.Path, cfg.Agents.Path}
	if cfg.Store.Driver == "sqlite" {
		candidates = append(candidates, cfg.Store.SQLitePath, cfg.Store.SQLitePath+"-wal", cfg.Store.SQLitePath+"-shm")
	}
	var files []string
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			files = append(files, p)
		}
	}
	return files
}

func createTarGz(outputPath string, files []string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, f := range files {
		if err := addFileToTar(tw, f); err != nil {
			return fmt.Errorf("add %s: %w", f, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFileToTar(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

type restoreTargets struct {
	config string
	db     string
	people string
	dir    string // everything else
}

func (t restoreTargets) pathFor(name string) string {
	switch {
	case name == "config.json" || name == filepath.Base(t.config):
		return t.config
	case t.people != "" && name == filepath.Base(t.people):
		return t.people
	case strings.HasSuffix(name, ".db"):
		return t.db
	case strings.HasSuffix(name, ".db-wal"):
		return t.db + "-wal"
	case strings.HasSuffix(name, ".db-shm"):
		return t.db + "-shm"
	default:
		return filepath.Join(t.dir, name)
	}
}

func extractTarGz(archivePath string, targets restoreTargets) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		target := targets.pathFor(filepath.Base(header.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		out, err := os.Create(target)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("extract %s: %w", target, err)
		}
		out.Close()
		restored = append(restored, target)
	}
	return restored, nil
}
