package orderfeed

const (
	defaultLedgerHighWater = 100
	defaultLedgerFloor     = 50
)

// Ledger is the bounded set of event ids a single view has already applied.
// Each mounted view owns exactly one ledger; ledgers are never shared because
// each view has its own relevance filter and its own risk of reprocessing.
//
// The ledger is not safe for concurrent use on its own; callers hold the
// owning view's lock.
type Ledger struct {
	highWater int
	floor     int
	ids       map[string]struct{}
	order     []string
}

// NewLedger returns a ledger that prunes down to floor entries whenever its
// size exceeds highWater. Non-positive arguments select the defaults; a floor
// at or above the high-water mark is clamped below it.
func NewLedger(highWater, floor int) *Ledger {
	if highWater <= 0 {
		highWater = defaultLedgerHighWater
	}
	if floor <= 0 {
		floor = defaultLedgerFloor
	}
	if floor >= highWater {
		floor = highWater / 2
		if floor == 0 {
			floor = 1
		}
	}
	return &Ledger{
		highWater: highWater,
		floor:     floor,
		ids:       map[string]struct{}{},
	}
}

func (l *Ledger) Has(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// Add records id as processed. It reports false if the id was already present.
// Crossing the high-water mark triggers a prune.
func (l *Ledger) Add(id string) bool {
	if l.Has(id) {
		return false
	}
	l.ids[id] = struct{}{}
	l.order = append(l.order, id)
	if len(l.order) > l.highWater {
		l.Prune()
	}
	return true
}

// Prune discards the oldest entries, keeping only the most recent floor ids.
// Retention is always a suffix of insertion order: recently-added ids are the
// ones still at risk of re-delivery, so they are never discarded ahead of
// genuinely old ones.
func (l *Ledger) Prune() {
	if len(l.order) <= l.floor {
		return
	}
	cut := len(l.order) - l.floor
	for _, id := range l.order[:cut] {
		delete(l.ids, id)
	}
	l.order = append([]string(nil), l.order[cut:]...)
}

func (l *Ledger) Len() int {
	return len(l.order)
}
