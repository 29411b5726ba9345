package main

import (
	"strings"

	"github.com/golang/glog"

	"sdspi/core"
)

// glogSink routes leveled core log lines to glog. Trace and debug lines
// are verbose levels 2 and 1.
func glogSink(line string) {
	level, msg := splitLevel(line)
	switch level {
	case core.LevelError:
		glog.Error(msg)
	case core.LevelWarning:
		glog.Warning(msg)
	case core.LevelDebug:
		glog.V(1).Info(msg)
	case core.LevelTrace:
		glog.V(2).Info(msg)
	default:
		glog.Info(msg)
	}
}

var levelTags = []struct {
	tag   string
	level core.LogLevel
}{
	{"[TRC] ", core.LevelTrace},
	{"[DBG] ", core.LevelDebug},
	{"[INF] ", core.LevelInfo},
	{"[WRN] ", core.LevelWarning},
	{"[ERR] ", core.LevelError},
}

func splitLevel(line string) (core.LogLevel, string) {
	for _, t := range levelTags {
		if strings.HasPrefix(line, t.tag) {
			return t.level, line[len(t.tag):]
		}
	}
	return core.LevelInfo, line
}

// coreLevel picks the core threshold matching glog verbosity.
func coreLevel() core.LogLevel {
	if glog.V(2) {
		return core.LevelTrace
	}
	if glog.V(1) {
		return core.LevelDebug
	}
	return core.LevelInfo
}
