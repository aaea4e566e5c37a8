package types

import "time"

// HubStatus counts the students and devices of one hub per status
type HubStatus struct {
	HubID       string         `json:"hub_id"`
	Students    map[string]int `json:"students"`
	Devices     map[string]int `json:"devices"`
	GeneratedAt time.Time      `json:"generated_at"`
}
