// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shardfs.
//
// go-shardfs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

// probeKey is looked up on storage backends; it never exists.
const probeKey = ".health-probe"

// StorageCheck reports whether a storage backend answers requests. For a
// remote machine this is a round trip to its shard server.
func StorageCheck(name string, backend storage.Backend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if _, err := backend.Exists(probeKey); err != nil {
			return CheckResult{
				Name:    name,
				Status:  StatusUnhealthy,
				Message: "storage backend unreachable",
				Error:   err.Error(),
			}
		}
		return CheckResult{Name: name, Status: StatusHealthy}
	}
}

// DirWritableCheck reports whether a file can be created in dir.
func DirWritableCheck(name, dir string) CheckFunc {
	return func(ctx context.Context) CheckResult {
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return CheckResult{
				Name:    name,
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s is not writable", filepath.Base(dir)),
				Error:   err.Error(),
			}
		}
		_ = f.Close()
		_ = os.Remove(f.Name())
		return CheckResult{Name: name, Status: StatusHealthy}
	}
}

// MachinesCheck probes every machine of a mount. Up to tolerance
// unreachable machines, the parity shard count, leave reads possible and
// report degraded; more is unhealthy.
func MachinesCheck(name string, machines []storage.Backend, tolerance int) CheckFunc {
	return func(ctx context.Context) CheckResult {
		var down []int
		var errs []string
		for i, m := range machines {
			if ctx.Err() != nil {
				return CheckResult{Name: name, Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
			}
			if _, err := m.Exists(probeKey); err != nil {
				down = append(down, i)
				errs = append(errs, fmt.Sprintf("machine %d: %v", i, err))
			}
		}

		result := CheckResult{
			Name:    name,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d machines reachable", len(machines)),
		}
		if len(down) == 0 {
			return result
		}
		result.Message = fmt.Sprintf("%d of %d machines unreachable %v", len(down), len(machines), down)
		result.Error = strings.Join(errs, "; ")
		if len(down) <= tolerance {
			result.Status = StatusDegraded
		} else {
			result.Status = StatusUnhealthy
		}
		return result
	}
}
