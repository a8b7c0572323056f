package scheduler

import "github.com/pithecene-io/vigil/types"

var (
	pendingOnly = []types.ProcessStatus{types.StatusPending}

	blockingByKind = types.ScheduleStrategy{
		Discipline: types.QueueBlocking,
		Class:      types.QueueClassBlocking,
		Dedup:      &types.DedupRule{Statuses: pendingOnly},
	}
	blockingByContent = types.ScheduleStrategy{
		Discipline: types.QueueBlocking,
		Class:      types.QueueClassBlocking,
		Dedup:      &types.DedupRule{Statuses: pendingOnly, ByContent: true},
	}
	nonBlocking = types.ScheduleStrategy{
		Discipline: types.QueueNonBlocking,
		Class:      types.QueueClassNonBlocking,
	}
)

// strategies is the static table keyed by request kind. Every blocking
// kind shares one class, so at most one of them runs at a time. Full-suite
// and watch runs collapse any pending duplicate of the same kind; targeted
// runs only collapse identical payloads.
var strategies = map[types.RequestKind]types.ScheduleStrategy{
	types.KindAllTests:          blockingByKind,
	types.KindWatchTests:        blockingByKind,
	types.KindWatchAllTests:     blockingByKind,
	types.KindByFile:            blockingByContent,
	types.KindByFileTest:        blockingByContent,
	types.KindByFilePattern:     blockingByContent,
	types.KindByFileTestPattern: blockingByContent,
	types.KindUpdateSnapshot:    blockingByContent,
	types.KindListTestFiles:     nonBlocking,
	types.KindNotTest:           nonBlocking,
}

// StrategyFor returns the schedule strategy for kind.
func StrategyFor(kind types.RequestKind) (types.ScheduleStrategy, bool) {
	s, ok := strategies[kind]
	return s, ok
}
