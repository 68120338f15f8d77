// Package utils
package utils

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zap.InfoLevel)
	once   sync.Once
)

// LogFile is the file the process-wide logger appends to. It must be set
// before the first call to GetLogger to take effect.
var LogFile = "strategy-engine.log"

func GetLogger() *zap.SugaredLogger {
	once.Do(func() {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		cores := []zapcore.Core{
			zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
		}
		if LogFile != "" {
			file, err := os.OpenFile(LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err == nil {
				cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), level))
			}
		}
		logger = zap.New(zapcore.NewTee(cores...)).Sugar().Named("strategy-engine")
	})
	return logger
}

// SetLevel changes the level of the process-wide logger. Unknown levels are ignored.
func SetLevel(l string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(l)); err != nil {
		return
	}
	level.SetLevel(lvl)
}
