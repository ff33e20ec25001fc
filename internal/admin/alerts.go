package admin

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/estatia/backend/internal/events"
)

// Alert is one triggered condition awaiting operator acknowledgement.
type Alert struct {
	ID             string                 `json:"id"`
	Rule           string                 `json:"rule"`
	Severity       string                 `json:"severity"` // "warning" | "critical"
	ToolName       string                 `json:"tool_name,omitempty"`
	Message        string                 `json:"message"`
	TriggeredAt    time.Time              `json:"triggered_at"`
	Acknowledged   bool                   `json:"acknowledged"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// AlertCenter raises, lists, and acknowledges alerts. Rules have a cooldown
// so a sustained condition produces one alert per window, not one per
// evaluation tick.
type AlertCenter struct {
	mu     sync.RWMutex
	alerts []*Alert

	// rule -> tool -> last trigger time
	lastTriggered map[string]map[string]time.Time
	cooldown      time.Duration

	denialRateThreshold float64
	minAttempts         int

	bus    events.EventEmitter
	logger *log.Logger
}

// NewAlertCenter creates the alert center with default thresholds.
func NewAlertCenter(bus events.EventEmitter) *AlertCenter {
	return &AlertCenter{
		alerts:              make([]*Alert, 0),
		lastTriggered:       make(map[string]map[string]time.Time),
		cooldown:            30 * time.Minute,
		denialRateThreshold: 0.5,
		minAttempts:         20,
		bus:                 bus,
		logger:              log.New(log.Writer(), "[ALERTS] ", log.LstdFlags),
	}
}

// SetDenialRateRule tunes the denial-rate rule.
func (ac *AlertCenter) SetDenialRateRule(threshold float64, minAttempts int) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.denialRateThreshold = threshold
	ac.minAttempts = minAttempts
}

// EvaluateTool applies the alert rules to one tool's trailing-hour summary.
func (ac *AlertCenter) EvaluateTool(toolName string, summary *UsageSummary) {
	ac.mu.RLock()
	threshold, minAttempts := ac.denialRateThreshold, ac.minAttempts
	ac.mu.RUnlock()

	if summary.TotalAttempts < minAttempts {
		return
	}

	rate := float64(summary.Denied) / float64(summary.TotalAttempts)
	if rate < threshold {
		return
	}

	severity := "warning"
	if rate >= 0.8 {
		severity = "critical"
	}
	ac.Raise("denial_rate", severity, toolName,
		"high denial rate on "+toolName,
		map[string]interface{}{
			"denied":   summary.Denied,
			"attempts": summary.TotalAttempts,
			"rate":     rate,
		})
}

// Raise records an alert unless the rule/tool pair is still cooling down.
func (ac *AlertCenter) Raise(rule, severity, toolName, message string, metadata map[string]interface{}) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	byTool, ok := ac.lastTriggered[rule]
	if !ok {
		byTool = make(map[string]time.Time)
		ac.lastTriggered[rule] = byTool
	}
	if last, ok := byTool[toolName]; ok && time.Since(last) < ac.cooldown {
		return
	}
	byTool[toolName] = time.Now()

	alert := &Alert{
		ID:          uuid.NewString(),
		Rule:        rule,
		Severity:    severity,
		ToolName:    toolName,
		Message:     message,
		TriggeredAt: time.Now(),
		Metadata:    metadata,
	}
	ac.alerts = append(ac.alerts, alert)
	ac.logger.Printf("🚨 [%s] %s (rule=%s, tool=%s)", severity, message, rule, toolName)

	if ac.bus != nil {
		ac.bus.Emit(events.TypeAlertRaised, "/internal/alerts", alert.ID, map[string]interface{}{
			"alert_id": alert.ID,
			"rule":     rule,
			"severity": severity,
			"tool":     toolName,
			"message":  message,
		})
	}
}

// Acknowledge marks an alert as handled. Returns false for unknown ids.
func (ac *AlertCenter) Acknowledge(alertID string) bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	for _, a := range ac.alerts {
		if a.ID == alertID && !a.Acknowledged {
			now := time.Now()
			a.Acknowledged = true
			a.AcknowledgedAt = &now
			return true
		}
	}
	return false
}

// List returns all alerts, newest last.
func (ac *AlertCenter) List() []*Alert {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	out := make([]*Alert, len(ac.alerts))
	copy(out, ac.alerts)
	return out
}

// UnacknowledgedCount feeds the dashboard badge.
func (ac *AlertCenter) UnacknowledgedCount() int {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	count := 0
	for _, a := range ac.alerts {
		if !a.Acknowledged {
			count++
		}
	}
	return count
}
