package intervals

import "slices"

// Selection is the chosen (period, schedule) pair. Period is nil until the
// user or a matching schedule picks one.
type Selection struct {
	Period   *int64 `json:"period"`
	Schedule int64  `json:"schedule"`
}

type State struct {
	IndexedTifs           []IndexedTIF      `json:"indexedTifs"`
	MinTimeTillExpiration float64           `json:"minTimeTillExpiration"`
	Optional              OptionalIntervals `json:"optional"`
	PairSelected          Selection         `json:"pairSelected"`
	PeriodTifs            []int64           `json:"periodTifs"`
	ScheduleTifs          []int64           `json:"scheduleTifs"`
	TifsLeft              []int64           `json:"tifsLeft"`
	Tifs                  []int64           `json:"tifs"`
}

func InitialState() State {
	return State{
		Optional:     OptionalIntervals{},
		PairSelected: Selection{Schedule: NoDelay},
	}
}

type Action interface {
	isAction()
}

// SetTifs loads fresh slot data. Selected keeps a prior choice.
type SetTifs struct {
	IndexedTifs           []IndexedTIF
	MinTimeTillExpiration *float64
	Optional              OptionalIntervals
	Selected              *Selection
}

// SetSchedule picks when the order starts: NoDelay or a slot's left value.
type SetSchedule struct {
	TIF int64
}

// SetPeriod picks the execution period.
type SetPeriod struct {
	TIF int64
}

func (SetTifs) isAction()     {}
func (SetSchedule) isAction() {}
func (SetPeriod) isAction()   {}

func Reduce(state State, action Action) State {
	switch a := action.(type) {
	case SetTifs:
		return reduceSetTifs(state, a)
	case SetSchedule:
		return reduceSetSchedule(state, a)
	case SetPeriod:
		state.PairSelected = Selection{Period: ptr(a.TIF), Schedule: state.PairSelected.Schedule}
		return state
	default:
		return state
	}
}

func reduceSetTifs(state State, a SetTifs) State {
	tifsLeft := make([]int64, 0, len(a.IndexedTifs))
	tifs := make([]int64, 0, len(a.IndexedTifs))
	for _, d := range a.IndexedTifs {
		tifsLeft = append(tifsLeft, d.Left)
		tifs = append(tifs, d.TIF)
	}

	selected := Selection{Schedule: NoDelay}
	if a.Selected != nil {
		selected = *a.Selected
	}

	periodTifs, _ := periodOptions(a.IndexedTifs, tifsLeft, selected.Schedule)
	if selected.Schedule == NoDelay {
		optional := make([]int64, 0, len(a.Optional[0])+len(periodTifs))
		for _, d := range a.Optional[0] {
			optional = append(optional, d.TIF)
		}
		periodTifs = append(optional, periodTifs...)
	}
	slices.Sort(periodTifs)

	minTTE := state.MinTimeTillExpiration
	if a.MinTimeTillExpiration != nil {
		minTTE = *a.MinTimeTillExpiration
	}

	optional := a.Optional
	if optional == nil {
		optional = OptionalIntervals{}
	}

	return State{
		IndexedTifs:           a.IndexedTifs,
		MinTimeTillExpiration: minTTE,
		Optional:              optional,
		PairSelected:          selected,
		PeriodTifs:            periodTifs,
		ScheduleTifs:          sorted(append([]int64{NoDelay}, tifsLeft...)),
		TifsLeft:              tifsLeft,
		Tifs:                  tifs,
	}
}

// reduceSetSchedule hides slots whose pool is too close to expiry
// (tif * minTimeTillExpiration >= left) by reporting them as 0.
func reduceSetSchedule(state State, a SetSchedule) State {
	live := make([]int64, 0, len(state.IndexedTifs))
	for _, d := range state.IndexedTifs {
		if float64(d.TIF)*state.MinTimeTillExpiration >= float64(d.Left) {
			live = append(live, 0)
			continue
		}
		live = append(live, d.Left)
	}
	slices.Sort(live)

	periodTifs, scheduled := periodOptions(state.IndexedTifs, live, a.TIF)

	var period *int64
	if scheduled != nil {
		period = ptr(scheduled.TIF)
	}

	state.PairSelected = Selection{Period: period, Schedule: a.TIF}
	state.PeriodTifs = periodTifs
	state.ScheduleTifs = append([]int64{NoDelay}, live...)
	return state
}

// periodOptions returns every left value for NoDelay, otherwise the single
// tif whose current pool has exactly schedule seconds left.
func periodOptions(indexed []IndexedTIF, tifsLeft []int64, schedule int64) ([]int64, *IndexedTIF) {
	if schedule == NoDelay {
		return slices.Clone(tifsLeft), nil
	}
	for i := range indexed {
		if indexed[i].Left == schedule {
			return []int64{indexed[i].TIF}, &indexed[i]
		}
	}
	return []int64{}, nil
}

func sorted(values []int64) []int64 {
	slices.Sort(values)
	return values
}

func ptr(v int64) *int64 {
	return &v
}
