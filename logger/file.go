package logger

import (
	"errors"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	filesMu sync.Mutex
	files   = map[string]*lumberjack.Logger{}
)

// Output returns where log lines should go: a size-rotated file when path is
// set, stdout otherwise. Every call for the same path returns the same file,
// so loggers built per unit of work share one rotation. The size and backup
// limits of the first call win. Files stay open until CloseOutputs.
func Output(path string, maxSizeMB, maxBackups int) io.Writer {
	if path == "" {
		return os.Stdout
	}

	filesMu.Lock()
	defer filesMu.Unlock()
	if f, ok := files[path]; ok {
		return f
	}
	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	files[path] = f
	return f
}

// CloseOutputs closes every file handed out by Output. A later write reopens
// the file.
func CloseOutputs() error {
	filesMu.Lock()
	defer filesMu.Unlock()

	var errs []error
	for path, f := range files {
		errs = append(errs, f.Close())
		delete(files, path)
	}
	return errors.Join(errs...)
}
