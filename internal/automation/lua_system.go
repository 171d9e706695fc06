//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerSystemModule installs the `system` global table: clock helpers
// and leveled logging.
func registerSystemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	mod.RawSetString("datetime", L.NewFunction(systemDatetime))
	mod.RawSetString("time_between", L.NewFunction(systemTimeBetween))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return systemLog(L, vm, e)
	}))
	L.SetGlobal("system", mod)
}

// system.datetime(component)
func systemDatetime(L *lua.LState) int {
	component := L.CheckString(1)
	now := time.Now()

	switch component {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "second":
		L.Push(lua.LNumber(now.Second()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "day":
		L.Push(lua.LNumber(now.Day()))
	case "month":
		L.Push(lua.LNumber(now.Month()))
	case "year":
		L.Push(lua.LNumber(now.Year()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time_str":
		L.Push(lua.LString(now.Format("15:04:05")))
	case "date_str":
		L.Push(lua.LString(now.Format("2006-01-02")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// system.time_between(from_hour, to_hour) wraps past midnight when from > to.
func systemTimeBetween(L *lua.LState) int {
	L.Push(lua.LBool(hourBetween(time.Now().Hour(), L.CheckInt(1), L.CheckInt(2))))
	return 1
}

func hourBetween(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}

// system.log(level, msg)
func systemLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)
	if vm.logs != nil {
		vm.logs("[" + level + "] " + msg)
	}

	switch level {
	case "debug":
		e.logger.Debug("script log", "msg", msg)
	case "warn":
		e.logger.Warn("script log", "msg", msg)
	case "error":
		e.logger.Error("script log", "msg", msg)
	default:
		e.logger.Info("script log", "msg", msg)
	}
	return 0
}
