// Package memory provides in-process implementations of the gate's storage
// ports. They back mock mode and unit tests; state is lost on restart.
package memory
