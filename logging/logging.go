package logging

import (
	"io"
	"os"

	"github.com/op/go-logging"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fossil-labs/proof-hub/config"
)

// Logger is the global logger instance, configured once at startup via InitLogger.
var Logger = logging.MustGetLogger("proof-hub")

var format = logging.MustStringFormatter(
	`%{time:2006-01-02T15:04:05.000Z07:00} %{level:.4s} %{shortfile} %{message}`,
)

func InitLogger(cfg *config.LogConfig) {
	backends := make([]logging.Backend, 0)
	if cfg.UseConsoleLogger {
		consoleBackend := logging.NewLogBackend(os.Stdout, "", 0)
		backends = append(backends, logging.NewBackendFormatter(consoleBackend, format))
	}
	if cfg.UseFileLogger {
		fileWriter := io.Writer(&lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxFileSizeInMB,
			MaxBackups: cfg.MaxBackupsOfLogFiles,
			MaxAge:     cfg.MaxAgeToRetainLogFilesInDays,
			Compress:   cfg.Compress,
		})
		fileBackend := logging.NewLogBackend(fileWriter, "", 0)
		backends = append(backends, logging.NewBackendFormatter(fileBackend, format))
	}
	leveled := logging.SetBackend(backends...)
	level, err := logging.LogLevel(cfg.Level)
	if err != nil {
		level = logging.INFO
	}
	leveled.SetLevel(level, "")
	Logger.SetBackend(leveled)
}
