package core

import (
	"context"
	"fmt"

	"github.com/mstavros/corebot/internal/channels"
	"github.com/mstavros/corebot/internal/observability"
	"github.com/mstavros/corebot/internal/pipeline"
	"github.com/mstavros/corebot/internal/reminders"
)

// ReminderDeliverer posts a due reminder straight through the channel
// adapter, bypassing the Context Assembler and Agent Invoker entirely: a
// reminder's task text is already final, not something for the LLM to
// compose, so it only needs the Response Pipeline's chunking/rendering
// stages (which themselves post through the channels.Registry).
type ReminderDeliverer struct {
	pipeline    *pipeline.Pipeline
	channelType channels.Type
	metrics     *observability.Metrics
}

// NewReminderDeliverer builds a ReminderDeliverer posting through pl's
// chunking/rendering stages on the named adapter type.
func NewReminderDeliverer(pl *pipeline.Pipeline, channelType channels.Type, metrics *observability.Metrics) *ReminderDeliverer {
	return &ReminderDeliverer{pipeline: pl, channelType: channelType, metrics: metrics}
}

// Deliver satisfies reminders.Deliverer: it formats r's task as a reminder
// notice and sends it through the pipeline's chunking/rendering stages. The
// task text is a user's own words, so sanitisation is a no-op and the
// notice reads as an ordinary conversational message.
func (d *ReminderDeliverer) Deliver(ctx context.Context, r *reminders.Reminder) error {
	text := fmt.Sprintf(":alarm_clock: reminder: %s", r.Task)
	result := d.pipeline.Run(ctx, d.channelType, r.Channel, text, "", false)

	outcome := "delivered"
	if result.Failed {
		outcome = "failed"
	}
	if d.metrics != nil {
		d.metrics.RecordReminderDelivery(outcome)
	}
	if result.Failed {
		return fmt.Errorf("reminders: deliver: %s", result.Message)
	}
	return nil
}
