// Package engine turns parsed command lines into running processes.
//
// The pieces are layered, each file building on the previous one:
//
//	00_model.go     commands, redirections, pipelines and lists
//	05_errors.go    the errors each layer can return
//	10_fdtable.go   descriptor bookkeeping with an owner per descriptor
//	20_redirect.go  redirections to descriptor maps
//	30_pipeline.go  pipes between stages
//	40_launch.go    one process per stage in a shared process group
//	50_jobs.go      job registry, signals and reaping
//	60_dispatch.go  routing of lines to builtins or pipelines
//	70_signals.go   signal names and numbers
package engine
