// Command rsak-kernel runs and inspects a Reflective Self-Agent Kernel
// instance: advancing cycles against a constitution, simulating
// candidate plans without committing them, replaying a recorded run's
// state-hash chain, and generating sovereign key material.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/axionic/rsak/internal/generator"
	"github.com/axionic/rsak/internal/hostarchive"
	"github.com/axionic/rsak/internal/hostexec"
	"github.com/axionic/rsak/internal/hostload"
	"github.com/axionic/rsak/internal/hoststore"
	"github.com/axionic/rsak/internal/keyceremony"
	"github.com/axionic/rsak/internal/telemetry"
	"github.com/axionic/rsak/pkg/artifacts"
	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/policycore"
	"github.com/axionic/rsak/pkg/rsak/simulate"
	"github.com/axionic/rsak/pkg/rsak/state"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint, factored out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(stderr, "Usage: rsak-kernel <cycle|simulate|verify|replay|keygen> [args...]")
		return 2
	}

	switch args[1] {
	case "cycle":
		return runCycleCmd(args[2:], stdout, stderr)
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "simulate":
		return runSimulateCmd(args[2:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown subcommand %q\n", args[1])
		return 2
	}
}

func runCycleCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: rsak-kernel cycle <constitution-path>")
		return 2
	}
	c, err := hostload.LoadConstitutionFile(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load constitution: %v\n", err)
		return 1
	}
	if failures := c.SelfTest(); len(failures) > 0 {
		for _, f := range failures {
			_, _ = fmt.Fprintln(stderr, f)
		}
		return 1
	}

	ctx := context.Background()
	provider, err := telemetry.NewProvider(ctx, telemetry.ObservabilityConfigFromEnv())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "observability: %v\n", err)
		return 1
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	st := state.NewState("genesis")
	now := time.Now().UTC().Format(time.RFC3339)

	spanCtx, span := provider.StartCycleSpan(ctx, st.Internal.CycleIndex)
	defer span.End()

	ts, err := generator.TimestampObservation(st.Internal.CycleIndex, now)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "build observation: %v\n", err)
		return 1
	}
	observations := []*artifact.Observation{ts}

	candidate, err := generator.NotifyCandidate(c, "cycle "+fmt.Sprint(st.Internal.CycleIndex)+" heartbeat", []string{ts.ID}, now)
	var candidates []*artifact.CandidateBundle
	if err == nil {
		candidates = append(candidates, candidate)
	}

	cycleStart := time.Now()
	out, err := policycore.RunCycle(c, observations, candidates, st, 0)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "run cycle: %v\n", err)
		return 1
	}
	provider.RecordCycle(spanCtx, string(out.Decision.DecisionType), time.Since(cycleStart))
	for _, ev := range out.AdmissionTrace {
		if !ev.Passed {
			provider.RecordRejection(spanCtx, string(ev.Gate), string(ev.RejectionCode))
		}
	}

	archive := hostarchive.NewArchive()
	streams := telemetry.FromPolicyOutput("cli-run", st.Internal.CycleIndex, observations, out)
	for _, stream := range telemetry.RequiredStreams {
		for _, env := range streams[stream] {
			if _, err := archive.Append(env); err != nil {
				_, _ = fmt.Fprintf(stderr, "archive append: %v\n", err)
				return 1
			}
		}
	}

	if out.Decision.Warrant != nil {
		executor := &hostexec.Executor{
			Archive: archive,
			Limiter: hostexec.NewActionLimiter(10, 20),
		}
		outcome, err := executor.Execute(spanCtx, out.Decision.Warrant)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "execute warrant: %v\n", err)
			return 1
		}
		if _, err := archive.Append(telemetry.Envelope{
			Stream:  telemetry.StreamExecutionTrace,
			CycleID: st.Internal.CycleIndex,
			Payload: map[string]any{"warrant_id": out.Decision.Warrant.WarrantID, "succeeded": outcome.Succeeded, "detail": outcome.Detail},
		}); err != nil {
			_, _ = fmt.Fprintf(stderr, "archive append: %v\n", err)
			return 1
		}
	}

	// Persist the cycle's output durably: the decision artifact by its
	// own content hash, and the sealed archive export, both through the
	// env-selected backing store. The printed archive key is what the
	// replay subcommand consumes.
	backing, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open backing store: %v\n", err)
		return 1
	}
	hstore := hoststore.New(backing)
	decisionKey, err := hstore.Put(ctx, out.Decision.ToMap())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "persist decision: %v\n", err)
		return 1
	}
	archiveKey, err := archive.PersistTo(ctx, backing)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "persist archive: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "decision: %s\n", out.Decision.DecisionType)
	_, _ = fmt.Fprintf(stdout, "decision artifact: %s\n", decisionKey)
	_, _ = fmt.Fprintf(stdout, "archive: %s\n", archiveKey)
	_, _ = fmt.Fprintf(stdout, "replay with: rsak-kernel replay %s\n", archiveKey)
	return 0
}

func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	ceremony, err := keyceremony.NewCeremony()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ceremony: %v\n", err)
		return 1
	}
	signer, err := ceremony.DeriveKey(0)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "derive genesis key: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "sovereign public key: %s\n", signer.PublicKeyHex())
	return 0
}

func runSimulateCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: rsak-kernel simulate <constitution-path>")
		return 2
	}
	c, err := hostload.LoadConstitutionFile(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load constitution: %v\n", err)
		return 1
	}

	st := state.NewState("genesis")
	now := time.Now().UTC().Format(time.RFC3339)

	ts, err := generator.TimestampObservation(st.Internal.CycleIndex, now)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "build observation: %v\n", err)
		return 1
	}
	observations := []*artifact.Observation{ts}

	candidate, err := generator.NotifyCandidate(c, "simulated cycle "+fmt.Sprint(st.Internal.CycleIndex), []string{ts.ID}, now)
	var candidates []*artifact.CandidateBundle
	if err == nil {
		candidates = append(candidates, candidate)
	}

	result, err := simulate.Cycle(c, observations, candidates, st, 0)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "simulate cycle: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "would decide: %s\n", result.Output.Decision.DecisionType)
	_, _ = fmt.Fprintf(stdout, "state diff: cycle %d -> %d, pending_amendments delta %d, active_treaties delta %d\n",
		result.StateDiff.CycleIndexBefore, result.StateDiff.CycleIndexAfter,
		result.StateDiff.PendingAmendmentsDelta, result.StateDiff.ActiveTreatiesDelta)
	_, _ = fmt.Fprintln(stdout, "no state was committed; this was a dry run")
	return 0
}

func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: rsak-kernel replay <sha256:archive-key | archive-export-path>")
		return 2
	}

	// A sha256: key names an archive the cycle subcommand persisted to
	// the backing store; anything else is read as an exported file.
	var raw []byte
	if strings.HasPrefix(args[0], "sha256:") {
		ctx := context.Background()
		backing, err := artifacts.NewStoreFromEnv(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "open backing store: %v\n", err)
			return 1
		}
		hstore := hoststore.New(backing)
		ok, err := hstore.Exists(ctx, args[0])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "check archive key: %v\n", err)
			return 1
		}
		if !ok {
			_, _ = fmt.Fprintf(stderr, "no archive stored under %s\n", args[0])
			return 1
		}
		raw, err = hstore.GetRaw(ctx, args[0])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "load archive: %v\n", err)
			return 1
		}
	} else {
		var err error
		raw, err = os.ReadFile(args[0])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "read archive export: %v\n", err)
			return 1
		}
	}

	archive, err := hostarchive.Import(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "import archive: %v\n", err)
		return 1
	}
	if err := archive.VerifyChain(); err != nil {
		_, _ = fmt.Fprintf(stderr, "chain verification failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "OK: %d entries, chain intact\n", len(archive.All()))
	return 0
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: rsak-kernel verify <constitution-path>")
		return 2
	}
	c, err := hostload.LoadConstitutionFile(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load constitution: %v\n", err)
		return 1
	}
	failures := c.SelfTest()
	if len(failures) == 0 {
		_, _ = fmt.Fprintln(stdout, "OK")
		return 0
	}
	for _, f := range failures {
		_, _ = fmt.Fprintln(stderr, f)
	}
	return 1
}
