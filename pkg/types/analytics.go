package types

import "time"

// AnalyticsEvent represents one usage event reported by a device
type AnalyticsEvent struct {
	ID         string                 `json:"id"`
	HubID      string                 `json:"hub_id"`
	DeviceID   string                 `json:"device_id,omitempty"`
	StudentID  string                 `json:"student_id,omitempty"`
	EventType  string                 `json:"event_type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Anonymized bool                   `json:"anonymized"`
}

// AnalyticsSummary aggregates analytics events for a hub
type AnalyticsSummary struct {
	HubID            string         `json:"hub_id"`
	TotalEvents      int            `json:"total_events"`
	EventsByType     map[string]int `json:"events_by_type"`
	UniqueDevices    int            `json:"unique_devices"`
	UniqueStudents   int            `json:"unique_students"`
	AnonymizedEvents int            `json:"anonymized_events"`
	GeneratedAt      time.Time      `json:"generated_at"`
}
