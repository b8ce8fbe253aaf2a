//go:build !trace && !debug && !info && !warn && !error && !critical
// +build !trace,!debug,!info,!warn,!error,!critical

package build

// LogLevel specifies a default log level of info.
const LogLevel = "info"
