package log

import (
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/lmittmann/tint"
)

const timeFormat = "060102 15:04:05.000"

func setupSLog(level Severity) {
	// Set highest possible level, so it can be changed in runtime.
	handlerLogLevel := level.toSLogLevel()

	// Create handler depending on OS.
	var logHandler slog.Handler
	switch runtime.GOOS {
	case "windows", "linux", "darwin":
		logHandler = tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:  true,
			Level:      handlerLogLevel,
			TimeFormat: timeFormat,
			NoColor:    !isStdoutTerminal(),
		})
	default:
		logHandler = tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:  true,
			Level:      handlerLogLevel,
			TimeFormat: time.DateTime,
			NoColor:    true,
		})
	}

	// Set as default logger.
	slog.SetDefault(slog.New(logHandler))
	// Set actual log level.
	slog.SetLogLoggerLevel(handlerLogLevel)
}

func isStdoutTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
