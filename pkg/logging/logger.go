// Package logging zap日志构造及第三方库适配（对外导出）
package logging

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 根据级别与运行环境创建zap日志
// env为prod时输出JSON，其余输出便于阅读的控制台格式。
func New(level, env, instance string) (*zap.Logger, error) {
	var zapConfig zap.Config
	if env == "prod" || env == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 %q: %w", level, err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	if instance != "" {
		zapConfig.InitialFields = map[string]interface{}{"instance": instance}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("创建日志失败: %w", err)
	}
	return logger, nil
}

// WatermillAdapter 把watermill日志转发到zap
type WatermillAdapter struct {
	logger *zap.Logger
}

// NewWatermillAdapter 创建watermill日志适配器
func NewWatermillAdapter(logger *zap.Logger) *WatermillAdapter {
	return &WatermillAdapter{logger: logger.Named("watermill")}
}

func (a *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(toZapFields(fields), zap.Error(err))...)
}

func (a *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, toZapFields(fields)...)
}

func (a *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, toZapFields(fields)...)
}

// Trace watermill的trace级别映射为debug
func (a *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, toZapFields(fields)...)
}

func (a *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillAdapter{logger: a.logger.With(toZapFields(fields)...)}
}

var _ watermill.LoggerAdapter = (*WatermillAdapter)(nil)

func toZapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// CronAdapter 把robfig/cron日志转发到zap
type CronAdapter struct {
	sugar *zap.SugaredLogger
}

// NewCronAdapter 创建cron日志适配器
func NewCronAdapter(logger *zap.Logger) *CronAdapter {
	return &CronAdapter{sugar: logger.Named("cron").Sugar()}
}

// Info cron的调度信息较多，记为debug
func (a *CronAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.sugar.Debugw(msg, keysAndValues...)
}

func (a *CronAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = (*CronAdapter)(nil)
