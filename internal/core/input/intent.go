// Package input binds authenticated transport sessions to controlled entities
// and queues validated per-tick intent for the simulation to drain.
package input

// Intent is a full snapshot of one tick's controls, not a delta. Losing a
// packet therefore self-heals on the next one: the newest snapshot fully
// describes the controls.
type Intent struct {
	ThrustForward bool    `json:"thrust_forward"`
	ThrustReverse bool    `json:"thrust_reverse"`
	YawLeft       bool    `json:"yaw_left"`
	YawRight      bool    `json:"yaw_right"`
	Brake         bool    `json:"brake"`
	Throttle      float64 `json:"throttle"`
}
