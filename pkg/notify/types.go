// Package notify implements the Notification Pipeline: severity-based
// channel routing, throttling, template rendering, and quiet/business
// hours gating for alerts raised by the Alert Engine and Supervisor
// Loop.
package notify

import (
	"time"

	"github.com/aperturecloud/llmgateway/pkg/alert"
)

// ThrottleWindow is the minimum gap between two sends of the same
// fingerprint.
const ThrottleWindow = 5 * time.Minute

// severityChannels is the fixed severity → channel routing table.
// INFO never reaches a channel; Pipeline.Dispatch logs it and returns
// before this table is even consulted.
var severityChannels = map[alert.Severity][]string{
	alert.SeverityWarning:  {ChannelEmail},
	alert.SeverityError:    {ChannelEmail, ChannelWebhook},
	alert.SeverityCritical: {ChannelEmail, ChannelWhatsApp, ChannelWebhook},
}

const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
	ChannelWebhook  = "webhook"
)

// NotificationConfig is a tenant's delivery configuration: recipients,
// the quiet-hours/business-hours windows that gate delivery, and the
// webhook's custom headers.
type NotificationConfig struct {
	TenantID string

	Email          string
	WhatsAppNumber string // E.164
	WebhookURL     string
	WebhookHeaders map[string]string

	Timezone string // IANA zone name; "" means UTC

	BusinessHoursEnabled bool
	BusinessHoursStart   string // "HH:MM", local to Timezone
	BusinessHoursEnd     string
	BusinessDays         []time.Weekday // empty + enabled means Mon-Fri

	QuietHoursEnabled       bool
	QuietHoursStart         string
	QuietHoursEnd           string
	QuietHoursWeekendAllDay bool

	ExceptCritical bool // bypass quiet/business-hours gating for CRITICAL alerts
}

// Result is the outcome of one pipeline dispatch.
type Result struct {
	Throttled bool
	Channels  map[string]ChannelResult
}

type ChannelResult struct {
	Success bool
	Error   string
}
