// Package components defines the inventories, converters and behaviours a
// processor works on, along with the flow and constraint enums shared by
// the solver and the systems.
package components
