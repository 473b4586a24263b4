package evidence

// Reason codes are stable identifiers carried by failed records.
// They MUST NOT change between ruleset releases.
const (
	// --- Ingestion (L1) ---
	ReasonSchemaViolation       = "SCHEMA_VIOLATION"
	ReasonDanglingReference     = "DANGLING_REFERENCE"
	ReasonReferenceKindMismatch = "REFERENCE_KIND_MISMATCH"
	ReasonDuplicateArtifact     = "DUPLICATE_ARTIFACT"
	ReasonImmutableArtifact     = "IMMUTABLE_ARTIFACT"

	// --- Constraints (L2) ---
	ReasonConstraintViolation            = "CONSTRAINT_VIOLATION" // generic predicate failure
	ReasonCyclicDependency               = "CYCLIC_DEPENDENCY"
	ReasonDuplicateStep                  = "DUPLICATE_STEP"
	ReasonUnknownDependency              = "UNKNOWN_DEPENDENCY"
	ReasonExecutionOrderViolation        = "EXECUTION_ORDER_VIOLATION"
	ReasonConstraintInheritanceViolation = "CONSTRAINT_INHERITANCE_VIOLATION"
	ReasonContextMismatch                = "CONTEXT_MISMATCH"
	ReasonDecisionMismatch               = "DECISION_MISMATCH"
	ReasonUndeclaredStep                 = "UNDECLARED_STEP" // drift: trace ran a step the plan never declared
	ReasonStateDrift                     = "STATE_DRIFT"
	ReasonUnresolvedRole                 = "UNRESOLVED_ROLE"
	ReasonInvalidVersion                 = "INVALID_VERSION"
	ReasonUnsupportedProtocolVersion     = "UNSUPPORTED_PROTOCOL_VERSION"
	ReasonUnknownModule                  = "UNKNOWN_MODULE"
	ReasonDuplicateNode                  = "DUPLICATE_NODE"
	ReasonForbiddenCondition             = "FORBIDDEN_CONDITION" // MUST-NOT predicate held
	ReasonPredicateError                 = "PREDICATE_ERROR"
	ReasonOracleUnavailable              = "ORACLE_UNAVAILABLE"

	// --- Scenarios (L3) ---
	ReasonMissingRequiredModule     = "MISSING_REQUIRED_MODULE"
	ReasonMissingStep               = "MISSING_STEP"
	ReasonStepOrderViolation        = "STEP_ORDER_VIOLATION"
	ReasonFailureConditionTriggered = "FAILURE_CONDITION_TRIGGERED"
	ReasonNormativeScopeViolation   = "NORMATIVE_SCOPE_VIOLATION"
)

// AllReasonCodes returns the full set of reason codes.
func AllReasonCodes() []string {
	return []string{
		ReasonSchemaViolation,
		ReasonDanglingReference,
		ReasonReferenceKindMismatch,
		ReasonDuplicateArtifact,
		ReasonImmutableArtifact,
		ReasonConstraintViolation,
		ReasonCyclicDependency,
		ReasonDuplicateStep,
		ReasonUnknownDependency,
		ReasonExecutionOrderViolation,
		ReasonConstraintInheritanceViolation,
		ReasonContextMismatch,
		ReasonDecisionMismatch,
		ReasonUndeclaredStep,
		ReasonStateDrift,
		ReasonUnresolvedRole,
		ReasonInvalidVersion,
		ReasonUnsupportedProtocolVersion,
		ReasonUnknownModule,
		ReasonDuplicateNode,
		ReasonForbiddenCondition,
		ReasonPredicateError,
		ReasonOracleUnavailable,
		ReasonMissingRequiredModule,
		ReasonMissingStep,
		ReasonStepOrderViolation,
		ReasonFailureConditionTriggered,
		ReasonNormativeScopeViolation,
	}
}
