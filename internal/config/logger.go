package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger 初始化全局日志：级别、格式与输出目标
func InitLogger(cfg *Config) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logrus.Warnf("Invalid log level '%s', using 'info'", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch strings.ToLower(cfg.Log.Output) {
	case "file":
		rotate, err := rotateWriter(cfg)
		if err != nil {
			return err
		}
		logrus.SetOutput(rotate)
	case "both":
		rotate, err := rotateWriter(cfg)
		if err != nil {
			return err
		}
		logrus.SetOutput(io.MultiWriter(os.Stdout, rotate))
	default:
		logrus.SetOutput(os.Stdout)
	}

	logrus.SetReportCaller(true)

	logrus.Infof("Logger initialized - Level: %s, Format: %s, Output: %s",
		cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)

	return nil
}

// rotateWriter 按配置构造轮转日志文件，必要时创建目录
func rotateWriter(cfg *Config) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Log.FilePath), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize, // MB
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge, // 天
		Compress:   cfg.Log.Compress,
		LocalTime:  true,
	}, nil
}
