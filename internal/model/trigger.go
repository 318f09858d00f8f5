package model

import "time"

// TriggerEvent records one authenticated sleep request for the history ledger.
type TriggerEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
}

// SleepOutcome is the result of a single sleep invocation. Method names the
// strategy that succeeded (or "simulation"); it is empty on failure.
type SleepOutcome struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Method    string `json:"method,omitempty"`
	Simulated bool   `json:"simulated,omitempty"`
}
