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

	"github.com/spf13/cobra"

	"ilvlbot/internal/config"
)

const (
	configArchiveName = "config.json"
	storeArchiveName  = "store.db"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config file and the SQLite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, _, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				return err
			}

			if outputPath == "" {
				dir := filepath.Join(config.ExpandPath(cfg.General.DataDir), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, fmt.Sprintf("ilvlbot-backup-%s.tar.gz", time.Now().Format("20060102-150405")))
			}

			files := backupFiles(cfgPath, cfg.Dialog.SQLitePath)
			if len(files) == 0 {
				return fmt.Errorf("nothing to back up (config: %s, db: %s)", cfgPath, cfg.Dialog.SQLitePath)
			}
			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, e := range files {
				fmt.Printf("  - %s\n", e.path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive path (default: <dataDir>/backups/ilvlbot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <archive.tar.gz>",
		Short: "Restore the config file and the SQLite store from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, _, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				return err
			}
			dbPath := cfg.Dialog.SQLitePath

			if !force && (exists(cfgPath) || exists(dbPath)) {
				fmt.Printf("This will overwrite:\n  Config:   %s\n  Database: %s\n", cfgPath, dbPath)
				return fmt.Errorf("restore aborted (use --force to proceed)")
			}

			restored, err := extractTarGz(args[0], cfgPath, dbPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restored from %s:\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

type archiveEntry struct {
	path string
	name string // name inside the archive
}

// backupFiles lists the config and the database with its WAL files, skipping
// any that do not exist.
func backupFiles(cfgPath, dbPath string) []archiveEntry {
	var entries []archiveEntry
	if exists(cfgPath) {
		entries = append(entries, archiveEntry{path: cfgPath, name: configArchiveName})
	}
	if dbPath == "" {
		return entries
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if exists(dbPath + suffix) {
			entries = append(entries, archiveEntry{path: dbPath + suffix, name: storeArchiveName + suffix})
		}
	}
	return entries
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func createTarGz(outputPath string, entries []archiveEntry) (err error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		if err := addFileToTar(tw, e.path, e.name); err != nil {
			return fmt.Errorf("add %s: %w", e.path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFileToTar(tw *tar.Writer, path, name string) error {
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
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// extractTarGz restores the archived config to cfgPath and the database files
// next to dbPath. Unknown entries are skipped.
func extractTarGz(archivePath, cfgPath, dbPath string) ([]string, error) {
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

		var target string
		name := filepath.Base(header.Name)
		switch {
		case name == configArchiveName:
			target = cfgPath
		case strings.HasPrefix(name, storeArchiveName):
			suffix := strings.TrimPrefix(name, storeArchiveName)
			if suffix != "" && suffix != "-wal" && suffix != "-shm" {
				continue
			}
			target = dbPath + suffix
		default:
			continue
		}

		if err := writeEntry(target, tr); err != nil {
			return nil, err
		}
		restored = append(restored, target)
	}
	return restored, nil
}

func writeEntry(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", target, err)
	}
	return out.Close()
}
