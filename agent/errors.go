// Error taxonomy of the executor.
//
// Soft failures (planning gate, unknown tools, exhausted budgets, duplicate
// delegations, tool failures) are resolved inside the loop by handing the
// model a failed tool result. Only the errors below escape Run; the caller
// fails the delegation and logs.

package agent

import "errors"

var (
	// ErrEmptySummary means the model produced no usable final summary.
	ErrEmptySummary = errors.New("run produced an empty summary")

	// ErrNoWritesPerformed means a run whose task required mutating the
	// graph finished without performing a single write. Completing it would
	// report work that never happened.
	ErrNoWritesPerformed = errors.New("run required writes but performed none")

	// ErrDelegationMissing means the session has no ledger record to execute.
	ErrDelegationMissing = errors.New("delegation not found")
)
