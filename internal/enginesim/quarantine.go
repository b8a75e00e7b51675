package enginesim

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
)

// isolateFiles moves every listed path into the quarantine directory. Files
// that no longer exist are skipped; an existing quarantine entry with the
// same base name is replaced. Any other failure aborts the whole batch.
func (s *Server) isolateFiles(paths []string) error {
	if err := os.MkdirAll(s.cfg.QuarantineDir, 0o700); err != nil {
		return fmt.Errorf("creating quarantine dir: %w", err)
	}

	for _, src := range paths {
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("isolate: source missing, skipping",
				logging.Field{Key: "path", Value: src})
			continue
		}

		dest := filepath.Join(s.cfg.QuarantineDir, filepath.Base(src))
		if _, err := os.Stat(dest); err == nil {
			if err := os.Remove(dest); err != nil {
				return fmt.Errorf("replacing %s in quarantine: %w", filepath.Base(src), err)
			}
		}
		if err := moveFile(src, dest); err != nil {
			return fmt.Errorf("isolating %s: %w", src, err)
		}
		s.logger.Info("file quarantined",
			logging.Field{Key: "path", Value: src},
			logging.Field{Key: "dest", Value: dest})
	}
	return nil
}

// restoreFiles moves quarantined files back to their recorded original
// paths. Missing quarantine files are skipped. If something already sits at
// the original path it is set aside with a .bak suffix before the restore.
func (s *Server) restoreFiles(items []model.RestoreItem) error {
	for _, it := range items {
		if err := validateQuarantineName(it.FileName); err != nil {
			return err
		}

		src := filepath.Join(s.cfg.QuarantineDir, it.FileName)
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("restore: quarantine file missing, skipping",
				logging.Field{Key: "file", Value: it.FileName})
			continue
		}

		if err := os.MkdirAll(filepath.Dir(it.OriginalPath), 0o755); err != nil {
			return fmt.Errorf("recreating parent of %s: %w", it.OriginalPath, err)
		}
		if _, err := os.Stat(it.OriginalPath); err == nil {
			if err := os.Rename(it.OriginalPath, it.OriginalPath+".bak"); err != nil {
				return fmt.Errorf("backing up %s: %w", it.OriginalPath, err)
			}
		}
		if err := moveFile(src, it.OriginalPath); err != nil {
			return fmt.Errorf("restoring %s: %w", it.FileName, err)
		}
		s.logger.Info("file restored",
			logging.Field{Key: "file", Value: it.FileName},
			logging.Field{Key: "dest", Value: it.OriginalPath})
	}
	return nil
}

// deleteQuarantineFiles permanently removes files from the quarantine
// directory. Names are validated so a crafted payload cannot reach outside
// it. Already-gone files are skipped.
func (s *Server) deleteQuarantineFiles(fileNames []string) error {
	for _, name := range fileNames {
		if err := validateQuarantineName(name); err != nil {
			return err
		}

		path := filepath.Join(s.cfg.QuarantineDir, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("deleting %s: %w", name, err)
		}
		s.logger.Info("quarantine file deleted", logging.Field{Key: "file", Value: name})
	}
	return nil
}

// validateQuarantineName rejects names that would escape the quarantine
// directory when joined to it.
func validateQuarantineName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid quarantine file name %q", name)
	}
	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		return fmt.Errorf("invalid quarantine file name %q", name)
	}
	return nil
}

// moveFile renames src to dest, falling back to copy+delete when the rename
// crosses filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
