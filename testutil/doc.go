// Package testutil provides shared test doubles: an adjustable clock, a
// recording notification sender, a static recipient resolver, and spies for
// the logging and metrics interfaces.
package testutil
