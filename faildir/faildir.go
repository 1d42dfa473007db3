// Package faildir implements the quarantine path for files the pipeline
// could not process: the file lands under <root>/failed/ with a timestamped
// name and a sibling .error file describing what went wrong.
package faildir

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DirName is the quarantine directory created under the configured root.
const DirName = "failed"

const timestampLayout = "20060102_150405"

// Move relocates src into the quarantine directory under root and writes
// the .error sibling. The original file is gone afterwards.
func Move(root, src, context string, cause error) (string, error) {
	dest, err := prepare(root, src)
	if err != nil {
		return "", err
	}
	if err := moveFile(src, dest); err != nil {
		return "", fmt.Errorf("quarantining %s: %w", src, err)
	}
	if err := writeErrorSidecar(dest, context, cause); err != nil {
		return dest, err
	}
	return dest, nil
}

// Copy places a copy of src into the quarantine directory under root and
// writes the .error sibling. The original file is left in place, for cases
// where the source must survive (a partially sent batch, for example).
func Copy(root, src, context string, cause error) (string, error) {
	dest, err := prepare(root, src)
	if err != nil {
		return "", err
	}
	if err := copyFile(src, dest); err != nil {
		return "", fmt.Errorf("quarantining %s: %w", src, err)
	}
	if err := writeErrorSidecar(dest, context, cause); err != nil {
		return dest, err
	}
	return dest, nil
}

func prepare(root, src string) (string, error) {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating quarantine directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s", time.Now().Format(timestampLayout), filepath.Base(src))
	return filepath.Join(dir, name), nil
}

func writeErrorSidecar(dest, context string, cause error) error {
	msg := context
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", context, cause)
	}
	body := fmt.Sprintf("%s\n%s\n", msg, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(dest+".error", []byte(body), 0o644); err != nil {
		return fmt.Errorf("writing error sidecar for %s: %w", dest, err)
	}
	return nil
}

// moveFile renames, falling back to copy+remove across filesystems.
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

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// AppendLog appends a line to the send error log kept next to the
// quarantined files.
func AppendLog(root, line string) error {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "send_errors.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %s\n", time.Now().Format(time.RFC3339), line)
	return err
}
