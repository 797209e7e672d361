package collect

import (
	"context"

	"xhbook/internal/backend"
	"xhbook/internal/components/chrono"
	"xhbook/internal/components/telemetry"
	"xhbook/internal/components/workers"
	"xhbook/internal/gateway"
)

const (
	report_collect_deliver = "collect.deliver"
	report_collect_drop    = "collect.drop"
)

// OptIn tells whether the user allows records to leave the machine.
type OptIn interface {
	AllowDataCollection() bool
}

// Identity is the student the records are attributed to.
type Identity interface {
	Identity() (studentID, studentNo string)
}

type Sender interface {
	PostLog(ctx context.Context, entry backend.LogEntry) error
}

// Collector turns gateway reports into log entries and delivers them in the
// background. Delivery is best effort, failed records are never retried.
type Collector struct {
	optIn    OptIn
	identity Identity
	sender   Sender
	clock    chrono.API
	pool     *workers.Pool
	tel      telemetry.API
}

func New(optIn OptIn, identity Identity, sender Sender, clock chrono.API, pool *workers.Pool, tel telemetry.API) *Collector {
	if clock == nil {
		clock = chrono.StandardImpl{}
	}
	return &Collector{
		optIn:    optIn,
		identity: identity,
		sender:   sender,
		clock:    clock,
		pool:     pool,
		tel:      telemetry.NewScopedAPI("collect", tel),
	}
}

// Enabled reads the opt-in, the gateway asks once at the start of a call.
func (c *Collector) Enabled() bool {
	if !c.optIn.AllowDataCollection() {
		c.tel.ReportDebug("data collection disabled, skipping")
		return false
	}
	return true
}

// Report never blocks on the network. Everything the record carries is
// captured before it returns. Callers check Enabled first.
func (c *Collector) Report(eventType string, req gateway.RequestRecord, res *gateway.ResponseRecord, errorMessage string) {
	studentID, studentNo := c.identity.Identity()
	entry := backend.LogEntry{
		EventType: eventType,
		StudentID: studentID,
		StudentNo: studentNo,
		Timestamp: chrono.Timestamp(c.clock.Now()),
		Request:   req,
		Response:  res,
		Error:     errorMessage,
	}

	submitted := c.pool.Submit(eventType, func(ctx context.Context) {
		err := c.sender.PostLog(ctx, entry)
		if err != nil {
			c.tel.ReportWarning(report_collect_deliver, eventType, err)
		}
	})
	if !submitted {
		c.tel.ReportWarning(report_collect_drop, eventType)
	}
}

// Flush waits for records that are still being delivered.
func (c *Collector) Flush(ctx context.Context) error {
	return c.pool.Wait(ctx)
}
