package types

// QueueDiscipline controls mutual exclusion between admitted requests.
type QueueDiscipline string

const (
	// QueueBlocking admits at most one running process per queue class.
	QueueBlocking QueueDiscipline = "blocking"
	// QueueNonBlocking starts immediately, concurrently with anything else.
	QueueNonBlocking QueueDiscipline = "non-blocking"
)

// QueueClass names an admission class. Blocking requests in the same class
// exclude each other.
type QueueClass string

// Queue classes.
const (
	QueueClassBlocking    QueueClass = "blocking"
	QueueClassNonBlocking QueueClass = "non-blocking"
)

// DedupRule controls whether an incoming request supersedes tracked ones
// of the same kind.
type DedupRule struct {
	// Statuses are the lifecycle states a tracked process must be in to match.
	Statuses []ProcessStatus `json:"statuses" yaml:"statuses"`
	// ByContent further requires the kind-specific payloads to be equal.
	ByContent bool `json:"by_content" yaml:"by_content"`
}

// Matches reports whether a tracked process with the given status is a
// dedup candidate under this rule.
func (d DedupRule) Matches(status ProcessStatus) bool {
	for _, s := range d.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// ScheduleStrategy is the admission policy bound to a request kind.
type ScheduleStrategy struct {
	Discipline QueueDiscipline `json:"discipline" yaml:"discipline"`
	Class      QueueClass      `json:"class" yaml:"class"`
	// Dedup is nil when requests of the kind never supersede each other.
	Dedup *DedupRule `json:"dedup,omitempty" yaml:"dedup,omitempty"`
}
