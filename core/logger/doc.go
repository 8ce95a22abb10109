// Package logger is a standardized event logging framework for job lifecycle
// events in the shell.
package logger
