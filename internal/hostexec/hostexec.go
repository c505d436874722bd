// Package hostexec carries out kernel-issued ExecutionWarrants. The
// kernel only ever authorizes an action; it never performs file I/O,
// network I/O, or process control itself. hostexec is where a warrant
// becomes a real effect, under the same path allowlist the admission
// pipeline already checked — re-checked here defensively, since a
// warrant may be replayed by a host far removed from the cycle that
// issued it.
package hostexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/axionic/rsak/pkg/runtime/sandbox"

	"github.com/axionic/rsak/internal/hostarchive"
	"github.com/axionic/rsak/internal/telemetry"
	"github.com/axionic/rsak/pkg/rsak/artifact"
)

// Outcome is the result of carrying out one warrant.
type Outcome struct {
	Succeeded bool
	Output    []byte
	Detail    string
}

// Executor carries out ExecutionWarrants against the host filesystem and
// archive. ReadPaths/WritePaths mirror the constitution's io_policy
// allowlist; Archive receives Notify(local_log) and LogAppend effects.
type Executor struct {
	ReadPaths  []string
	WritePaths []string
	Archive    *hostarchive.Archive

	// HandlerSandbox, when set, runs custom action-type handlers declared
	// in the constitution as WASM packs (constitution action_space entries
	// with a handler_pack_hash field) rather than the built-in RSA-0
	// action types. Optional: most constitutions never declare one.
	HandlerSandbox sandbox.Sandbox

	// Limiter, when set, throttles warrant execution per action type so a
	// cycle loop that starts issuing warrants unexpectedly fast (a runaway
	// amendment/treaty retry, a misbehaving generator) cannot exhaust host
	// I/O or sandbox capacity before an operator notices.
	Limiter *ActionLimiter
}

// Execute dispatches a warrant to the handler for its action type.
func (e *Executor) Execute(ctx context.Context, w *artifact.ExecutionWarrant) (Outcome, error) {
	if e.Limiter != nil {
		if err := e.Limiter.Wait(ctx, string(w.ActionType)); err != nil {
			return Outcome{}, fmt.Errorf("hostexec: rate limit: %w", err)
		}
	}
	switch w.ActionType {
	case artifact.ActionReadLocal:
		return e.execReadLocal(w)
	case artifact.ActionWriteLocal:
		return e.execWriteLocal(w)
	case artifact.ActionNotify:
		return e.execNotify(w)
	case artifact.ActionLogAppend:
		return e.execLogAppend(w)
	case artifact.ActionExit:
		return Outcome{Succeeded: true, Detail: "exit acknowledged"}, nil
	default:
		if e.HandlerSandbox != nil {
			return e.execViaHandlerSandbox(ctx, w)
		}
		return Outcome{}, fmt.Errorf("hostexec: no handler for action type %s", w.ActionType)
	}
}

func (e *Executor) execReadLocal(w *artifact.ExecutionWarrant) (Outcome, error) {
	path, _ := w.ScopeConstraints["path"].(string)
	if !isUnderAny(path, e.ReadPaths) {
		return Outcome{}, fmt.Errorf("hostexec: path %q not under any read allowlist root", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Outcome{Succeeded: false, Detail: err.Error()}, nil
	}
	return Outcome{Succeeded: true, Output: data}, nil
}

func (e *Executor) execWriteLocal(w *artifact.ExecutionWarrant) (Outcome, error) {
	path, _ := w.ScopeConstraints["path"].(string)
	content, _ := w.ScopeConstraints["content"].(string)
	if !isUnderAny(path, e.WritePaths) {
		return Outcome{}, fmt.Errorf("hostexec: path %q not under any write allowlist root", path)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Outcome{Succeeded: false, Detail: err.Error()}, nil
	}
	return Outcome{Succeeded: true}, nil
}

func (e *Executor) execNotify(w *artifact.ExecutionWarrant) (Outcome, error) {
	target, _ := w.ScopeConstraints["target"].(string)
	message, _ := w.ScopeConstraints["message"].(string)
	switch artifact.NotifyTarget(target) {
	case artifact.NotifyStdout:
		fmt.Println(message)
		return Outcome{Succeeded: true}, nil
	case artifact.NotifyLocalLog:
		if e.Archive == nil {
			return Outcome{}, fmt.Errorf("hostexec: local_log notify requires an archive")
		}
		_, err := e.Archive.Append(telemetry.Envelope{
			Stream:  telemetry.StreamExecutionTrace,
			Payload: map[string]any{"notify_target": target, "message": message},
		})
		return Outcome{Succeeded: err == nil}, err
	default:
		return Outcome{}, fmt.Errorf("hostexec: unknown notify target %q", target)
	}
}

func (e *Executor) execLogAppend(w *artifact.ExecutionWarrant) (Outcome, error) {
	if e.Archive == nil {
		return Outcome{}, fmt.Errorf("hostexec: LogAppend requires an archive")
	}
	stream, _ := w.ScopeConstraints["stream"].(string)
	_, err := e.Archive.Append(telemetry.Envelope{
		Stream:  telemetry.StreamName(stream),
		Payload: w.ScopeConstraints,
	})
	return Outcome{Succeeded: err == nil}, err
}

func (e *Executor) execViaHandlerSandbox(ctx context.Context, w *artifact.ExecutionWarrant) (Outcome, error) {
	packHash, _ := w.ScopeConstraints["handler_pack_hash"].(string)
	input, _ := w.ScopeConstraints["input"].(string)
	out, err := e.HandlerSandbox.Run(ctx, sandbox.PackRef{Hash: packHash}, []byte(input))
	if err != nil {
		return Outcome{Succeeded: false, Detail: err.Error()}, nil
	}
	return Outcome{Succeeded: true, Output: out}, nil
}

// ActionLimiter enforces a per-action-type token-bucket rate, mirroring the
// host's existing per-visitor HTTP rate limiter but keyed by ActionType
// instead of client IP.
type ActionLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewActionLimiter builds a limiter allowing rps warrants/second per action
// type, with burst allowed above that steady rate.
func NewActionLimiter(rps float64, burst int) *ActionLimiter {
	return &ActionLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until actionType's bucket admits one more warrant, or ctx is
// done.
func (a *ActionLimiter) Wait(ctx context.Context, actionType string) error {
	return a.forAction(actionType).Wait(ctx)
}

func (a *ActionLimiter) forAction(actionType string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[actionType]
	if !ok {
		l = rate.NewLimiter(a.rps, a.burst)
		a.limiters[actionType] = l
	}
	return l
}

func isUnderAny(path string, roots []string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return false
	}
	for _, root := range roots {
		cr := filepath.Clean(root)
		if clean == cr || strings.HasPrefix(clean, cr+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
