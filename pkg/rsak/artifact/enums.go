package artifact

// Author identifies who originated an artifact. Closed set.
type Author string

const (
	AuthorKernel     Author = "kernel"
	AuthorHost       Author = "host"
	AuthorUser       Author = "user"
	AuthorReflection Author = "reflection"
)

// DecisionType is the closed set of outcomes the policy core may return.
type DecisionType string

const (
	DecisionAction         DecisionType = "ACTION"
	DecisionRefuse         DecisionType = "REFUSE"
	DecisionExit           DecisionType = "EXIT"
	DecisionQueueAmendment DecisionType = "QUEUE_AMENDMENT"
	DecisionAdopt          DecisionType = "ADOPT"
	DecisionNone           DecisionType = "NONE"
)

// ActionType is the closed set of action requests the constitution may
// declare. ReadLocal/WriteLocal/LogAppend/Notify/Exit are the RSA-0 base
// set; a constitution's action_space.action_types governs what is
// actually admitted, this enum only names the vocabulary the kernel
// understands field shapes for.
type ActionType string

const (
	ActionNotify     ActionType = "Notify"
	ActionReadLocal  ActionType = "ReadLocal"
	ActionWriteLocal ActionType = "WriteLocal"
	ActionExit       ActionType = "Exit"
	ActionLogAppend  ActionType = "LogAppend"
)

// ObservationKind is the closed set of observation kinds.
type ObservationKind string

const (
	ObservationUserInput ObservationKind = "user_input"
	ObservationTimestamp ObservationKind = "timestamp"
	ObservationBudget    ObservationKind = "budget"
	ObservationSystem    ObservationKind = "system"
)

// NotifyTarget is the closed set of Notify action targets.
type NotifyTarget string

const (
	NotifyStdout   NotifyTarget = "stdout"
	NotifyLocalLog NotifyTarget = "local_log"
)

// ExitReasonCode is the closed taxonomy for EXIT decisions.
type ExitReasonCode string

const (
	ExitNoAdmissibleAction ExitReasonCode = "NO_ADMISSIBLE_ACTION"
	ExitAuthorityConflict  ExitReasonCode = "AUTHORITY_CONFLICT"
	ExitBudgetExhausted    ExitReasonCode = "BUDGET_EXHAUSTED"
	ExitIntegrityRisk      ExitReasonCode = "INTEGRITY_RISK"
	ExitUserRequested      ExitReasonCode = "USER_REQUESTED"
)

// RefusalReasonCode is the closed taxonomy for REFUSE decisions.
type RefusalReasonCode string

const (
	RefusalNoAdmissibleAction       RefusalReasonCode = "NO_ADMISSIBLE_ACTION"
	RefusalMissingRequiredArtifact  RefusalReasonCode = "MISSING_REQUIRED_ARTIFACT"
	RefusalAuthorityCitationInvalid RefusalReasonCode = "AUTHORITY_CITATION_INVALID"
	RefusalScopeClaimInvalid        RefusalReasonCode = "SCOPE_CLAIM_INVALID"
	RefusalConstitutionViolation    RefusalReasonCode = "CONSTITUTION_VIOLATION"
	RefusalExecutionWarrantUnavail  RefusalReasonCode = "EXECUTION_WARRANT_UNAVAILABLE"
	RefusalBudgetExhausted          RefusalReasonCode = "BUDGET_EXHAUSTED"
	RefusalMissingRequiredObs       RefusalReasonCode = "MISSING_REQUIRED_OBSERVATION"
)

// AdmissionRejectionCode is the closed taxonomy for gate-level failures
// in the RSA-0 admission pipeline.
type AdmissionRejectionCode string

const (
	RejectCandidateParseFailed   AdmissionRejectionCode = "CANDIDATE_PARSE_FAILED"
	RejectInvalidUnicode         AdmissionRejectionCode = "INVALID_UNICODE"
	RejectCandidateBudgetExceed  AdmissionRejectionCode = "CANDIDATE_BUDGET_EXCEEDED"
	RejectKernelOnlyAction       AdmissionRejectionCode = "KERNEL_ONLY_ACTION"
	RejectMissingField           AdmissionRejectionCode = "MISSING_FIELD"
	RejectInvalidField           AdmissionRejectionCode = "INVALID_FIELD"
	RejectCitationUnresolvable   AdmissionRejectionCode = "CITATION_UNRESOLVABLE"
	RejectPathNotAllowlisted     AdmissionRejectionCode = "PATH_NOT_ALLOWLISTED"
)

// AdmissionGate is the closed, ordered set of RSA-0 admission gates.
type AdmissionGate string

const (
	GateCompleteness           AdmissionGate = "completeness"
	GateAuthorityCitation      AdmissionGate = "authority_citation"
	GateScopeClaim             AdmissionGate = "scope_claim"
	GateConstitutionCompliance AdmissionGate = "constitution_compliance"
	GateIOAllowlist            AdmissionGate = "io_allowlist"
)

// GateOrder is the canonical gate evaluation order, used to compute
// RefusalRecord.FailedGate as "the earliest gate with any failure".
var GateOrder = []AdmissionGate{
	GateCompleteness,
	GateAuthorityCitation,
	GateScopeClaim,
	GateConstitutionCompliance,
	GateIOAllowlist,
}

// SystemEvent is the closed set of SYSTEM observation payload events that
// the policy core recognizes as integrity signals.
type SystemEvent string

const (
	SystemStartupIntegrityOK    SystemEvent = "startup_integrity_ok"
	SystemStartupIntegrityFail SystemEvent = "startup_integrity_fail"
	SystemCitationIndexOK       SystemEvent = "citation_index_ok"
	SystemCitationIndexFail     SystemEvent = "citation_index_fail"
	SystemReplayOK              SystemEvent = "replay_ok"
	SystemReplayFail            SystemEvent = "replay_fail"
	SystemExecutorIntegrityFail SystemEvent = "executor_integrity_fail"
)

// IntegrityRiskEvents is the set of SystemEvent values that force an EXIT
// decision with ExitIntegrityRisk.
var IntegrityRiskEvents = map[SystemEvent]bool{
	SystemStartupIntegrityFail: true,
	SystemCitationIndexFail:    true,
	SystemExecutorIntegrityFail: true,
	SystemReplayFail:           true,
}
