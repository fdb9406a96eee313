package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/lanward/lanward/internal/config"
)

var logFile *os.File

// Init sets up dual logging to stdout and a log file.
// Must be called after config.Load(). A missing or unwritable log file
// degrades to stdout-only logging.
func Init() {
	path := config.Cfg.LogPath
	if path == "" {
		path = filepath.Join(config.Cfg.DataPath, "lanward.log")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("WARNING: cannot create log directory: %v", err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("WARNING: cannot open log file %s: %v", path, err)
		return
	}

	logFile = f
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.Printf("Logging to file: %s", path)
}

// Close releases the log file, restoring stdout-only output.
func Close() {
	if logFile == nil {
		return
	}
	log.SetOutput(os.Stdout)
	logFile.Close()
	logFile = nil
}
