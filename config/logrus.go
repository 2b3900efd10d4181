package config

import (
	"context"
	"os"
	"strings"

	"github.com/mmdatafocus/diplomas_backend/appctx"
	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logLevelFromEnv())
	logg.SetOutput(os.Stdout)
}

func logLevelFromEnv() logrus.Level {
	v := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if v == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(v)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// SetLogLevel parses level and applies it to the process logger. Unknown levels are ignored.
func SetLogLevel(level string) {
	if parsed, err := logrus.ParseLevel(strings.TrimSpace(level)); err == nil {
		logg.SetLevel(parsed)
	}
}

func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	if data != nil {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
			"data":     data,
		}).Error(err.Error())
	} else {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
		}).Error(err.Error())
	}
}

// LogFields returns the request scoped fields (correlation id, diploma id, message id) found in ctx.
func LogFields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if ctx == nil {
		return fields
	}
	if cid, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && cid != "" {
		fields["correlation_id"] = cid
	}
	if id, ok := appctx.GetInt(ctx, appctx.ContextKeyDiplomaId); ok {
		fields["diploma_id"] = id
	}
	if mid, ok := appctx.GetString(ctx, appctx.ContextKeyMessageId); ok && mid != "" {
		fields["message_id"] = mid
	}
	return fields
}
