package tracking

import (
	"fmt"
	"strings"

	"github.com/vasudvy/billfrog/internal/policy"
)

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// PolicyDenialError blocks a request at the policy pre-check. It carries
// the full set of triggered reasons; no usage record is persisted.
type PolicyDenialError struct {
	Reasons []policy.Reason
	Flags   map[string]any
}

func (e *PolicyDenialError) Error() string {
	if len(e.Reasons) == 0 {
		return "request denied by policy"
	}
	parts := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		parts[i] = fmt.Sprintf("%s: %s", r.Filter, r.Reason)
	}
	return "request denied by policy: " + strings.Join(parts, "; ")
}
