// Package monitor runs the periodic device checks.
//
// A Loop fetches the device list, hands it to a Strategy, sends the
// resulting alerts and then sleeps exactly one interval, whatever the tick's
// outcome. Two strategies exist: StatusDiff reports offline devices and
// RotationDiff reports devices whose external IP failed to rotate.
//
// Loops are started and stopped by name through a Registry.
package monitor
