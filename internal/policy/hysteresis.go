package policy

import "github.com/smoothtask/smoothtask/internal/model"

// hystState is the per-(pid or group) hysteresis bookkeeping from
// spec.md 4.4: current_class, proposed_class, proposal_age_ticks, plus
// time_in_current to gate (c).
type hystState struct {
	current         model.PriorityClass
	proposed        model.PriorityClass
	proposalAge     int
	timeInCurrent   int
}

// Hysteresis tracks state machines for every known target keyed by pid or
// group id. Initial state on first observation is Normal, per spec.md 3.
type Hysteresis struct {
	states map[string]*hystState

	minStableTicks int
	minTimeInClass int
}

func NewHysteresis(minStableTicks, minTimeInClass int) *Hysteresis {
	return &Hysteresis{
		states:         make(map[string]*hystState),
		minStableTicks: minStableTicks,
		minTimeInClass: minTimeInClass,
	}
}

// Advance feeds one tick's proposal for key and returns the committed
// class for this tick. A transition commits only when: (a) proposed has
// persisted for minStableTicks, (b) proposed != current, and (c) the
// process has spent at least minTimeInClass ticks in current. Proposals
// that flip back within the window reset proposalAge to zero.
func (h *Hysteresis) Advance(key string, proposal model.PriorityClass) model.PriorityClass {
	st, ok := h.states[key]
	if !ok {
		st = &hystState{current: model.Normal, proposed: proposal, proposalAge: 0, timeInCurrent: 0}
		h.states[key] = st
	}

	if proposal == st.proposed {
		st.proposalAge++
	} else {
		st.proposed = proposal
		st.proposalAge = 1
	}

	if proposal == st.current {
		st.timeInCurrent++
		return st.current
	}

	if st.proposalAge >= h.minStableTicks && st.timeInCurrent >= h.minTimeInClass {
		st.current = st.proposed
		st.timeInCurrent = 0
	} else {
		st.timeInCurrent++
	}
	return st.current
}

// Current returns the committed class for key without advancing state,
// or Normal if key has never been observed.
func (h *Hysteresis) Current(key string) model.PriorityClass {
	if st, ok := h.states[key]; ok {
		return st.current
	}
	return model.Normal
}

// Forget drops bookkeeping for a key whose pid/group no longer exists.
func (h *Hysteresis) Forget(key string) {
	delete(h.states, key)
}

// AdvanceNoop advances timeInCurrent without changing the proposal, used
// when a tick is skipped (deadline overrun): state is advanced "as if the
// tick were a no-op" per spec.md 5.
func (h *Hysteresis) AdvanceNoop(key string) {
	if st, ok := h.states[key]; ok {
		st.timeInCurrent++
	}
}

// Keys returns every currently-tracked key, for callers that need to
// advance every known group as a no-op (an overrun tick).
func (h *Hysteresis) Keys() []string {
	keys := make([]string, 0, len(h.states))
	for k := range h.states {
		keys = append(keys, k)
	}
	return keys
}
