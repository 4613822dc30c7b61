// Package logging wires the daemon's hclog logger: stdout plus a per-start
// log file on disk, with every record mirrored into an in-memory ring for
// the admin console.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const fileNameLayout = "2006-01-02_15-04-05"

// Setup creates the root logger. It opens a timestamped log file under dir
// (skipped with a warning if the directory cannot be created), registers the
// ring sink, and returns the logger plus a close func for the file.
func Setup(level, dir string, ring *Ring) (hclog.InterceptLogger, func(), error) {
	output := io.Writer(os.Stdout)
	closeFn := func() {}

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err == nil {
			path := filepath.Join(dir, time.Now().Format(fileNameLayout)+".log")
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
				output = io.MultiWriter(os.Stdout, f)
				closeFn = func() { _ = f.Close() }
			}
		}
	}

	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:   "amia",
		Level:  hclog.LevelFromString(level),
		Output: output,
	})
	if ring != nil {
		logger.RegisterSink(ring)
	}
	return logger, closeFn, nil
}

// Cleanup removes old log files from dir: anything older than retentionDays,
// then oldest-first until the directory fits within maxTotalBytes.
func Cleanup(dir string, retentionDays int, maxTotalBytes int64) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type logFile struct {
		path string
		mod  time.Time
		size int64
	}
	var files []logFile
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if retentionDays > 0 && info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
			continue
		}
		files = append(files, logFile{path: path, mod: info.ModTime(), size: info.Size()})
	}

	if maxTotalBytes <= 0 {
		return nil
	}

	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= maxTotalBytes {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, f := range files {
		if total <= maxTotalBytes {
			break
		}
		if err := os.Remove(f.path); err == nil {
			total -= f.size
		}
	}
	return nil
}
