// Package process starts and supervises local child processes.
//
// It is used for two kinds of children: re-executions of the current binary
// that become procgroup workers, and external commands launched by
// command-backed hooks. Both are started from a Spec and observed through a
// Handle.
//
// Process-group termination is only guaranteed on Unix, where a child started
// with NewProcessGroup leads its own group and Stop signals every member of
// it. On Linux a child may additionally request a parent-death signal so it
// is told to shut down when the process that forked it goes away. Windows
// offers best-effort semantics: only the direct child is terminated.
package process
