package forge

import (
	"sync"

	"forge/internal/ir"
)

// Pass names one optimization pass. Unknown or disabled passes are
// skipped silently when a pipeline runs.
type Pass = ir.Pass

const (
	PassDisabled             = ir.PassDisabled
	PassCFGSimplification    = ir.PassCFGSimplification
	PassLICM                 = ir.PassLICM
	PassAggressiveDCE        = ir.PassAggressiveDCE
	PassGVN                  = ir.PassGVN
	PassInstructionCombining = ir.PassInstructionCombining
	PassReassociate          = ir.PassReassociate
	PassDeadStoreElimination = ir.PassDeadStoreElimination
	PassSCCP                 = ir.PassSCCP
	PassScalarReplAggregates = ir.PassScalarReplAggregates
	PassEarlyCSE             = ir.PassEarlyCSE
)

// OptLevel is the overall optimization aggressiveness.
type OptLevel int

const (
	OptNone OptLevel = iota
	OptLess
	OptDefault
	OptAggressive
)

// Config captures everything that shapes a compilation: the pass
// pipeline and its level. Configs are values; nothing mutates one after
// construction.
type Config struct {
	level  OptLevel
	passes []Pass
}

// Level returns the configured optimization level.
func (c Config) Level() OptLevel { return c.level }

// Passes returns a copy of the pipeline in execution order.
func (c Config) Passes() []Pass {
	out := make([]Pass, len(c.passes))
	copy(out, c.passes)
	return out
}

func defaultPasses(level OptLevel) []Pass {
	switch level {
	case OptNone:
		return nil
	case OptLess:
		return []Pass{PassCFGSimplification, PassAggressiveDCE}
	case OptAggressive:
		return []Pass{
			PassCFGSimplification,
			PassSCCP,
			PassInstructionCombining,
			PassEarlyCSE,
			PassAggressiveDCE,
		}
	default:
		return []Pass{
			PassCFGSimplification,
			PassInstructionCombining,
			PassEarlyCSE,
			PassAggressiveDCE,
		}
	}
}

// editOpKind is one step of an Edit.
type editOpKind uint8

const (
	editAdd editOpKind = iota
	editRemove
	editClear
)

type editOp struct {
	kind editOpKind
	pass Pass
}

// Edit is a recorded sequence of changes to a Config. An Edit holds no
// reference to the Config it will be applied to; the same Edit applies
// to any number of configs, in any order, from any goroutine.
type Edit struct {
	ops      []editOp
	level    OptLevel
	setLevel bool
}

// Add appends a pass to the end of the pipeline.
func (e Edit) Add(p Pass) Edit {
	e.ops = append(e.ops[:len(e.ops):len(e.ops)], editOp{kind: editAdd, pass: p})
	return e
}

// Remove deletes every earlier occurrence of a pass.
func (e Edit) Remove(p Pass) Edit {
	e.ops = append(e.ops[:len(e.ops):len(e.ops)], editOp{kind: editRemove, pass: p})
	return e
}

// Clear empties the pipeline.
func (e Edit) Clear() Edit {
	e.ops = append(e.ops[:len(e.ops):len(e.ops)], editOp{kind: editClear})
	return e
}

// Level overrides the optimization level.
func (e Edit) Level(l OptLevel) Edit {
	e.level = l
	e.setLevel = true
	return e
}

// Apply replays the edit over c and returns the result. c itself is
// untouched.
func (e Edit) Apply(c Config) Config {
	passes := make([]Pass, len(c.passes))
	copy(passes, c.passes)
	for _, op := range e.ops {
		switch op.kind {
		case editAdd:
			passes = append(passes, op.pass)
		case editRemove:
			kept := passes[:0]
			for _, p := range passes {
				if p != op.pass {
					kept = append(kept, p)
				}
			}
			passes = kept
		case editClear:
			passes = passes[:0]
		}
	}
	level := c.level
	if e.setLevel {
		level = e.level
	}
	return Config{level: level, passes: passes}
}

// NewConfig builds a config with the stock pipeline for level.
func NewConfig(level OptLevel) Config {
	return Config{level: level, passes: defaultPasses(level)}
}

var (
	defaultCfgMu sync.Mutex
	defaultCfg   = NewConfig(OptDefault)
)

// DefaultConfig returns the process-wide config used when Acquire is
// given none.
func DefaultConfig() Config {
	defaultCfgMu.Lock()
	defer defaultCfgMu.Unlock()
	return defaultCfg
}

// SetDefaultConfig replaces the process-wide default.
func SetDefaultConfig(c Config) {
	defaultCfgMu.Lock()
	defer defaultCfgMu.Unlock()
	defaultCfg = c
}

// EditDefaultConfig applies an edit to the default atomically.
func EditDefaultConfig(e Edit) {
	defaultCfgMu.Lock()
	defer defaultCfgMu.Unlock()
	defaultCfg = e.Apply(defaultCfg)
}
