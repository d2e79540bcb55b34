// Package applog configures the process-wide logrus logger used by every
// other package in this module.
package applog

import (
	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

// Config controls the top-level logging setup, bound directly from CLI
// flags in cmd/procstar.
type Config struct {
	Debug   bool
	LogFile string
}

// Init applies cfg to the standard logrus logger. When LogFile is set,
// output is routed through a rotating lumberjack.Logger instead of stderr.
func Init(cfg Config) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if cfg.LogFile != "" {
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
	}
}
