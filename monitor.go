package querybus

// MessageMonitor observes queries entering the bus. OnIngested is called
// once per dispatch, before interception; the returned callback receives
// exactly one report describing the call's outcome.
//
// Implementations must tolerate unsynchronized concurrent use.
type MessageMonitor interface {
	OnIngested(q *Query) MonitorCallback
}

// UpdateMonitor observes subscription-query updates. OnIngested is called
// once per delivery attempt to a single session: success when the update
// reaches the sink or the pending buffer is replayed, failure when the push
// fails, ignored when the update is dropped.
type UpdateMonitor interface {
	OnIngested(u *Update) MonitorCallback
}

// MonitorCallback reports the outcome of one monitored message. Exactly one
// of the three methods is invoked per callback.
type MonitorCallback interface {
	ReportSuccess()
	ReportFailure(err error)
	ReportIgnored()
}

type nopMonitor struct{}

func (nopMonitor) OnIngested(*Query) MonitorCallback { return nopCallback{} }

type nopUpdateMonitor struct{}

func (nopUpdateMonitor) OnIngested(*Update) MonitorCallback { return nopCallback{} }

type nopCallback struct{}

func (nopCallback) ReportSuccess()      {}
func (nopCallback) ReportFailure(error) {}
func (nopCallback) ReportIgnored()      {}
