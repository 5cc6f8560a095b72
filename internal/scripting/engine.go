// Package scripting hosts the Lua VM used for data-driven power effects.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for power effect execution.
// Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// ActivationContext holds pre-packed data for a power activation.
type ActivationContext struct {
	PrototypeID    uint64
	Script         string
	Rank           int32
	CharacterLevel int32
	CombatLevel    int32
	ItemLevel      int32
	ItemVariation  float32
	OwnerLevel     int32
	TargetID       uint64
}

// ActivationResult is returned by the Lua activate_power function.
type ActivationResult struct {
	OK            bool
	Magnitude     int
	CooldownTicks int
	Message       string
}

// ActivatePower calls the Lua activate_power function for the named script.
// A missing definition falls back to a plain success with no effect.
func (e *Engine) ActivatePower(ctx ActivationContext) ActivationResult {
	fn := e.vm.GetGlobal("activate_power")
	if fn == lua.LNil {
		return ActivationResult{OK: true}
	}

	t := e.vm.NewTable()
	t.RawSetString("prototype_id", lua.LNumber(ctx.PrototypeID))
	t.RawSetString("script", lua.LString(ctx.Script))
	t.RawSetString("rank", lua.LNumber(ctx.Rank))
	t.RawSetString("character_level", lua.LNumber(ctx.CharacterLevel))
	t.RawSetString("combat_level", lua.LNumber(ctx.CombatLevel))
	t.RawSetString("item_level", lua.LNumber(ctx.ItemLevel))
	t.RawSetString("item_variation", lua.LNumber(ctx.ItemVariation))
	t.RawSetString("owner_level", lua.LNumber(ctx.OwnerLevel))
	t.RawSetString("target_id", lua.LNumber(ctx.TargetID))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua activate_power error", zap.Error(err),
			zap.Uint64("prototype_id", ctx.PrototypeID))
		return ActivationResult{OK: false}
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return ActivationResult{OK: true}
	}

	return ActivationResult{
		OK:            rt.RawGetString("ok") == lua.LTrue,
		Magnitude:     lInt(rt, "magnitude"),
		CooldownTicks: lInt(rt, "cooldown_ticks"),
		Message:       lStr(rt, "message"),
	}
}

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
