package notices

import "fmt"

// Flavor is a named sweep configuration. Every flavor runs the same
// processing pipeline; only the selection filter and the day gate differ.
type Flavor struct {
	// Name is the stable identifier used in routes, CLI args and logs.
	Name string

	// Events restricts selection to these triggering events.
	Events []TriggeringEvent

	// RealTime selects notices by their sendInRealTime flag. Real-time and
	// batch notices never share a sweep.
	RealTime bool

	// DayGated caps a flavor at one physical send per tenant calendar day:
	// selection cuts off at local start-of-day instead of now, so a notice
	// rescheduled today cannot be picked up again before the next local
	// midnight regardless of its nominal recurrence period.
	DayGated bool
}

var (
	DueDateRealTime = Flavor{
		Name:     "due-date",
		Events:   []TriggeringEvent{EventDueDate},
		RealTime: true,
	}

	DueDateNotRealTime = Flavor{
		Name:     "due-date-not-real-time",
		Events:   []TriggeringEvent{EventDueDate, EventDueDateNotRealTime},
		RealTime: false,
		DayGated: true,
	}

	FeeFine = Flavor{
		Name:     "fee-fine",
		Events:   []TriggeringEvent{EventAgedToLostReturned, EventAgedToLostFineCharged},
		RealTime: true,
	}

	OverdueFine = Flavor{
		Name:     "overdue-fine",
		Events:   []TriggeringEvent{EventOverdueFineReturned, EventOverdueFineRenewed},
		RealTime: true,
	}

	RequestExpiration = Flavor{
		Name:     "request-expiration",
		Events:   []TriggeringEvent{EventRequestExpiration, EventHoldExpiration},
		RealTime: true,
	}
)

// Flavors lists every sweep flavor in processing order.
var Flavors = []Flavor{
	DueDateRealTime,
	DueDateNotRealTime,
	FeeFine,
	OverdueFine,
	RequestExpiration,
}

// FlavorByName resolves a flavor from its route/CLI identifier.
func FlavorByName(name string) (Flavor, error) {
	for _, f := range Flavors {
		if f.Name == name {
			return f, nil
		}
	}
	return Flavor{}, fmt.Errorf("unknown sweep flavor %q", name)
}
