package protocol

import "github.com/google/go-dap"

// Capabilities returns the fixed capability set advertised in every
// initialize response. It is fixed rather than negotiated against the
// client's own capabilities: the core supports the same surface for every
// session.
func Capabilities() dap.Capabilities {
	return dap.Capabilities{
		SupportsConfigurationDoneRequest:    true,
		SupportsFunctionBreakpoints:         true,
		SupportsConditionalBreakpoints:      true,
		SupportsHitConditionalBreakpoints:   true,
		SupportsEvaluateForHovers:           true,
		ExceptionBreakpointFilters:          exceptionFilters(),
		SupportsStepBack:                    false,
		SupportsSetVariable:                 true,
		SupportsRestartFrame:                false,
		SupportsGotoTargetsRequest:          true,
		SupportsStepInTargetsRequest:        true,
		SupportsCompletionsRequest:          true,
		SupportsModulesRequest:              true,
		SupportsRestartRequest:              true,
		SupportsExceptionOptions:            true,
		SupportsValueFormattingOptions:      true,
		SupportsExceptionInfoRequest:        true,
		SupportsDelayedStackTraceLoading:    true,
		SupportsLoadedSourcesRequest:        true,
		SupportsSetExpression:               true,
		SupportsTerminateRequest:            true,
		SupportsDataBreakpoints:             true,
		SupportsDisassembleRequest:          true,
		SupportsSteppingGranularity:         true,
		SupportsInstructionBreakpoints:      true,
		SupportsCancelRequest:               true,
	}
}

func exceptionFilters() []dap.ExceptionBreakpointsFilter {
	return []dap.ExceptionBreakpointsFilter{
		{Filter: "raised", Label: "Raised Exceptions", SupportsCondition: true},
		{Filter: "uncaught", Label: "Uncaught Exceptions", SupportsCondition: true},
	}
}
