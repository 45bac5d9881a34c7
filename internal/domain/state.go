package domain

import "sort"

// TransactionState is the lifecycle status of a relayed transaction.
type TransactionState string

const (
	StateUnsubmitted TransactionState = "unsubmitted"
	StateSubmitted   TransactionState = "submitted"
	StateMempool     TransactionState = "mempool"
	StateDropped     TransactionState = "dropped"
	StateCancelled   TransactionState = "cancelled"
	StateAborted     TransactionState = "aborted"
	StateFailed      TransactionState = "failed"
	StateSucceeded   TransactionState = "succeeded"
	StateConfirmed   TransactionState = "confirmed"
)

var knownStates = map[TransactionState]bool{
	StateUnsubmitted: false,
	StateSubmitted:   false,
	StateMempool:     false,
	StateDropped:     true,
	StateCancelled:   true,
	StateAborted:     true,
	StateFailed:      true,
	StateSucceeded:   true,
	StateConfirmed:   true,
}

// TransactionStates returns every known state in lexical order.
func TransactionStates() []TransactionState {
	states := make([]TransactionState, 0, len(knownStates))
	for state := range knownStates {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states
}

// ParseTransactionState converts raw into a known state.
func ParseTransactionState(raw string) (TransactionState, bool) {
	state := TransactionState(raw)
	if _, ok := knownStates[state]; !ok {
		return "", false
	}
	return state, true
}

func (s TransactionState) Valid() bool {
	_, ok := knownStates[s]
	return ok
}

// IsTerminal reports whether no further on-chain progress is expected.
func (s TransactionState) IsTerminal() bool {
	return knownStates[s]
}

func (s TransactionState) String() string {
	return string(s)
}
