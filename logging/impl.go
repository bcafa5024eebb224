package logging

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Appender is an output for log entries. Any zapcore.Core is also an Appender.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

type (
	impl struct {
		*zap.SugaredLogger

		name      string
		level     zap.AtomicLevel
		appenders *appenderSet
	}

	appenderSet struct {
		mu        sync.RWMutex
		appenders []Appender
	}

	// dispatchCore fans each enabled entry out to every appender of its set.
	dispatchCore struct {
		level  zap.AtomicLevel
		set    *appenderSet
		fields []zapcore.Field
	}
)

func newImpl(name string, level Level, appenders ...Appender) *impl {
	return newImplWithSet(name, zap.NewAtomicLevelAt(level.AsZap()), &appenderSet{appenders: appenders})
}

func newImplWithSet(name string, level zap.AtomicLevel, set *appenderSet) *impl {
	core := &dispatchCore{level: level, set: set}
	sugared := zap.New(core, zap.AddCaller()).Sugar()
	if name != "" {
		sugared = sugared.Named(name)
	}
	return &impl{SugaredLogger: sugared, name: name, level: level, appenders: set}
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders.mu.Lock()
	imp.appenders.appenders = append(imp.appenders.appenders, appender)
	imp.appenders.mu.Unlock()
}

func (imp *impl) SetLevel(level Level) {
	imp.level.SetLevel(level.AsZap())
}

func (imp *impl) GetLevel() Level {
	switch imp.level.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.InfoLevel:
		return INFO
	case zapcore.WarnLevel:
		return WARN
	default:
		return ERROR
	}
}

// Sublogger returns a logger named "<parent>.<subname>" that shares the parent's outputs. Its
// level starts at the parent's current level and can be changed independently.
func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}
	return newImplWithSet(newName, zap.NewAtomicLevelAt(imp.level.Level()), imp.appenders)
}

func (imp *impl) AsZap() *zap.SugaredLogger {
	return imp.SugaredLogger
}

func (imp *impl) Sync() error {
	return imp.appenders.sync()
}

func (set *appenderSet) write(entry zapcore.Entry, fields []zapcore.Field) error {
	set.mu.RLock()
	defer set.mu.RUnlock()
	var errs error
	for _, appender := range set.appenders {
		errs = multierr.Combine(errs, appender.Write(entry, fields))
	}
	return errs
}

func (set *appenderSet) sync() error {
	set.mu.RLock()
	defer set.mu.RUnlock()
	var errs error
	for _, appender := range set.appenders {
		errs = multierr.Combine(errs, appender.Sync())
	}
	return errs
}

func (c *dispatchCore) Enabled(level zapcore.Level) bool {
	return c.level.Enabled(level)
}

func (c *dispatchCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &dispatchCore{level: c.level, set: c.set, fields: merged}
}

func (c *dispatchCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *dispatchCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if len(c.fields) > 0 {
		all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
		all = append(all, c.fields...)
		fields = append(all, fields...)
	}
	return c.set.write(entry, fields)
}

func (c *dispatchCore) Sync() error {
	return c.set.sync()
}
