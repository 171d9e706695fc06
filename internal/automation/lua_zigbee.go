//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zigbee-endpoints/internal/coordinator"
)

const maxHandlersPerScript = 100

// registerZigbeeModule installs the `zigbee` global table.
func registerZigbeeModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	funcs := map[string]lua.LGFunction{
		"on":       func(L *lua.LState) int { return zigbeeOn(L, vm) },
		"log":      func(L *lua.LState) int { return zigbeeLog(L, vm, e) },
		"command":  func(L *lua.LState) int { return zigbeeCommand(L, e) },
		"read":     func(L *lua.LState) int { return zigbeeRead(L, e) },
		"identify": func(L *lua.LState) int { return zigbeeIdentify(L, e) },
		"after":    func(L *lua.LState) int { return zigbeeAfter(L, vm, e) },
		"devices":  func(L *lua.LState) int { return zigbeeDevices(L, e) },
	}
	for name, fn := range funcs {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("zigbee", mod)
}

// zigbee.on(event_type, [filter], callback)
func zigbeeOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	h := luaEventHandler{eventType: eventType, filter: eventFilter{cluster: -1}}

	if L.GetTop() >= 3 {
		f := L.CheckTable(2)
		h.fn = L.CheckFunction(3)
		if v := f.RawGetString("ieee"); v != lua.LNil {
			h.filter.ieee = v.String()
		}
		if v, ok := f.RawGetString("endpoint").(lua.LNumber); ok {
			h.filter.endpoint = uint8(v)
		}
		if v, ok := f.RawGetString("cluster").(lua.LNumber); ok {
			h.filter.cluster = int(v)
		}
		if v := f.RawGetString("attr"); v != lua.LNil {
			h.filter.attr = v.String()
		}
		if v := f.RawGetString("command"); v != lua.LNil {
			h.filter.command = v.String()
		}
	} else {
		h.fn = L.CheckFunction(2)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// zigbee.log(msg)
func zigbeeLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.logs != nil {
		vm.logs(msg)
	}
	e.logger.Info("script log", "msg", msg)
	return 0
}

// zigbee.command(device, ep, cluster, cmd, [payload]) -> ok, err
func zigbeeCommand(L *lua.LState, e *Engine) int {
	dev := checkDevice(L, 1, e)
	ep := checkRange(L, 2, 0xFF, "endpoint")
	cluster := checkRange(L, 3, 0xFFFF, "cluster")
	cmd := checkRange(L, 4, 0xFF, "command")

	var payload []byte
	if tbl, ok := L.Get(5).(*lua.LTable); ok {
		tbl.ForEach(func(_, v lua.LValue) {
			if n, ok := v.(lua.LNumber); ok {
				payload = append(payload, byte(n))
			}
		})
	}
	if dev == nil {
		return pushResult(L, errDeviceNotFound(L.CheckString(1)))
	}

	ctx, cancel := e.commandContext()
	defer cancel()
	err := e.coord.Devices().SendClusterCommand(ctx, dev.IEEE(), uint8(ep), uint16(cluster), uint8(cmd), payload)
	if err != nil {
		e.logger.Warn("script command failed", "ieee", dev.IEEE(), "cluster", cluster, "cmd", cmd, "err", err)
	}
	return pushResult(L, err)
}

// zigbee.read(device, ep, cluster, attr_name) -> cached value or nil
func zigbeeRead(L *lua.LState, e *Engine) int {
	dev := checkDevice(L, 1, e)
	ep := checkRange(L, 2, 0xFF, "endpoint")
	cluster := checkRange(L, 3, 0xFFFF, "cluster")
	attr := L.CheckString(4)
	if dev == nil {
		L.Push(lua.LNil)
		return 1
	}

	ctx, cancel := e.commandContext()
	defer cancel()
	res, err := e.coord.Devices().ReadAttributes(ctx, dev.IEEE(), uint8(ep), uint16(cluster), []string{attr}, true)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, res.Values[attr]))
	return 1
}

// zigbee.identify(device, [seconds]) -> ok, err
func zigbeeIdentify(L *lua.LState, e *Engine) int {
	dev := checkDevice(L, 1, e)
	seconds := L.OptInt(2, 5)
	if dev == nil {
		return pushResult(L, errDeviceNotFound(L.CheckString(1)))
	}
	ctx, cancel := e.commandContext()
	defer cancel()
	return pushResult(L, e.coord.Devices().Identify(ctx, dev.IEEE(), uint16(max(0, min(seconds, 0xFFFF)))))
}

// zigbee.after(seconds, callback)
func zigbeeAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		case <-vm.ctx.Done():
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}

// zigbee.devices() -> list of {ieee, name, manufacturer, model, endpoints}
func zigbeeDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for _, dev := range e.coord.Devices().Devices() {
		d := L.NewTable()
		d.RawSetString("ieee", lua.LString(dev.IEEE()))
		d.RawSetString("name", lua.LString(dev.Name()))
		d.RawSetString("manufacturer", lua.LString(dev.Manufacturer()))
		d.RawSetString("model", lua.LString(dev.Model()))
		if pct, ok := dev.BatteryPercent(); ok {
			d.RawSetString("battery", lua.LNumber(pct))
		}
		eps := L.NewTable()
		for _, ep := range dev.Endpoints() {
			eps.Append(lua.LNumber(ep.ID()))
		}
		d.RawSetString("endpoints", eps)
		tbl.Append(d)
	}
	L.Push(tbl)
	return 1
}

func (e *Engine) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.coord.Context(), e.commandTimeout)
}

// checkDevice resolves argument n (IEEE address or device name) to a live
// device, nil when there is none.
func checkDevice(L *lua.LState, n int, e *Engine) *coordinator.Device {
	return resolveDevice(e.coord.Devices().Devices(), L.CheckString(n))
}

func resolveDevice(devices []*coordinator.Device, target string) *coordinator.Device {
	for _, d := range devices {
		if strings.EqualFold(d.IEEE(), target) {
			return d
		}
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name(), target) {
			return d
		}
	}
	return nil
}

func checkRange(L *lua.LState, n, maxVal int, what string) int {
	v := L.CheckInt(n)
	if v < 0 || v > maxVal {
		L.ArgError(n, what+" out of range")
	}
	return v
}

func errDeviceNotFound(target string) error {
	return fmt.Errorf("device not found: %s", target)
}

// pushResult pushes true, or false and the error message.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}
