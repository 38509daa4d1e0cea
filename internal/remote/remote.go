// Package remote defines the capability providers the deployment worker
// drives: directory enumeration, remote execution, file transfer and the
// local Sysmon binary cache. Transports for the first three live outside
// this service; the worker only sees these interfaces and must handle any
// of them being absent at runtime.
package remote

import (
	"context"
	"time"
)

// Computer is one endpoint found by directory enumeration.
type Computer struct {
	Hostname          string
	DistinguishedName string
	OS                string
}

// DirectoryClient enumerates candidate hosts from a directory service.
type DirectoryClient interface {
	IsAvailable() bool
	ListComputers(ctx context.Context) ([]Computer, error)
}

// ExecResult is the outcome of one remote command invocation.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs a command on a remote host. Execute must respect the
// timeout and return rather than hang on an unreachable host.
type Executor interface {
	IsAvailable() bool
	Execute(ctx context.Context, host, command string, args []string, timeout time.Duration) (*ExecResult, error)
}

// FileTransfer pushes file content to a path on a remote host.
type FileTransfer interface {
	IsAvailable() bool
	Push(ctx context.Context, host string, content []byte, remotePath string) error
}

// CacheInfo describes the locally cached Sysmon binary.
type CacheInfo struct {
	Version      string    `json:"version"`
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"size_bytes"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// BinaryCache stores Sysmon installer binaries by version so install and
// update operations do not re-download per host.
type BinaryCache interface {
	IsAvailable() bool
	IsCached(version string) bool
	CachePath(version string) string
	GetCacheInfo(version string) (*CacheInfo, error)
	UpdateCache(ctx context.Context, version string) (*CacheInfo, error)
}
