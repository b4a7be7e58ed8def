package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var setupOnce sync.Once

// LogFormatter renders one log line with a fixed timestamp/level/request-id
// prefix.
//
// Format: [2026-07-31 12:00:00] [info ] [a1b2c3d4-...] message field=value
type LogFormatter struct{}

var logFieldOrder = []string{"app_id", "module", "fn", "network_id", "error"}

// Format implements logrus.Formatter.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range logFieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	var formatted string
	if entry.Caller != nil {
		formatted = fmt.Sprintf("[%s] [%s] [%s] [%s:%d] %s%s\n", timestamp, levelStr, reqID, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] [%s] %s%s\n", timestamp, levelStr, reqID, message, fieldsStr)
	}
	buffer.WriteString(formatted)

	return buffer.Bytes(), nil
}

// Setup configures the shared logrus instance and Gin's internal writers.
// It is safe to call multiple times; initialization happens only once.
// When jsonFormat is true, structured JSON lines are emitted instead, for
// log aggregation pipelines.
func Setup(level log.Level, jsonFormat bool) {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetLevel(level)
		log.SetReportCaller(jsonFormat)
		if jsonFormat {
			log.SetFormatter(&log.JSONFormatter{})
		} else {
			log.SetFormatter(&LogFormatter{})
		}

		gin.DefaultWriter = log.StandardLogger().Writer()
		gin.DefaultErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			format = strings.TrimRight(format, "\r\n")
			log.StandardLogger().Infof(format, values...)
		}
	})
}
