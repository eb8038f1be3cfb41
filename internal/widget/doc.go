// Package widget holds the dashboard widgets and the set that cycles between
// them. Widgets are updated from the control loop and request their data
// through a task.Submitter.
package widget
