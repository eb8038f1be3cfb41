// Package fetch builds work items that perform HTTP GET requests. Bodies run
// off the control loop, so response bodies can be decoded there before the
// result is delivered.
package fetch
