package procs

import (
	"time"

	"github.com/alexhsamuel/procstar/internal/spec"
)

// Times is the timestamp trio in a ProcRes.
type Times struct {
	Start   string   `json:"start"`
	Stop    *string  `json:"stop,omitempty"`
	Elapsed float64  `json:"elapsed"`
}

// Status is the termination status, present iff a proc is Terminated.
type Status struct {
	ExitCode *int  `json:"exit_code,omitempty"`
	Signum   *int  `json:"signum,omitempty"`
	CoreDump bool  `json:"core_dump"`
}

// RusageRes is the serializable projection of Rusage.
type RusageRes struct {
	UserTimeSeconds   float64 `json:"user_time"`
	SystemTimeSeconds float64 `json:"system_time"`
	MaxRssKb          int64   `json:"max_rss_kb"`
}

// FdRes is the serializable projection of an FdResult.
type FdRes struct {
	Type      string `json:"type"` // "file" | "capture" | "error"
	Path      string `json:"path,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Data      string `json:"data,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ProcRes is the full per-proc result tree returned by the HTTP API and
// the WebSocket uplink.
type ProcRes struct {
	State      string            `json:"state"`
	Errors     []string          `json:"errors"`
	Pid        int               `json:"pid"`
	ProcStat   *ProcStat         `json:"proc_stat,omitempty"`
	ProcStatm  *ProcStatm        `json:"proc_statm,omitempty"`
	Times      Times             `json:"times"`
	Status     *Status           `json:"status,omitempty"`
	Rusage     *RusageRes        `json:"rusage,omitempty"`
	Fds        map[string]*FdRes `json:"fds"`
}

// Res is the top-level output document: ProcId -> ProcRes.
type Res map[string]ProcRes

// ToResult projects a single Record into its serializable ProcRes.
func ToResult(rec *Record) ProcRes {
	now := time.Now()
	state := rec.State()

	var statusRes *Status
	var rusageRes *RusageRes
	var procStatm *ProcStatm

	wi, terminated := rec.WaitInfo()
	if terminated {
		statusRes = &Status{CoreDump: wi.CoreDump}
		if wi.Signaled {
			sig := wi.Signal
			statusRes.Signum = &sig
		} else {
			code := wi.ExitCode
			statusRes.ExitCode = &code
		}
		rusageRes = &RusageRes{
			UserTimeSeconds:   wi.Rusage.UserTime.Seconds(),
			SystemTimeSeconds: wi.Rusage.SystemTime.Seconds(),
			MaxRssKb:          wi.Rusage.MaxRss,
		}
	} else {
		procStatm = LoadProcStatmOrLog(rec.Pid)
	}

	procStat := rec.ProcStat()
	if procStat == nil && !terminated {
		procStat = LoadProcStatOrLog(rec.Pid)
	}

	var stopStr *string
	if stopTime, ok := rec.StopTime(); ok {
		s := stopTime.Format(time.RFC3339Nano)
		stopStr = &s
	}

	fds := make(map[string]*FdRes, len(rec.FdHandlers))
	for _, entry := range rec.FdHandlers {
		fds[spec.FdName(entry.FdNum)] = toFdRes(entry.Handler.GetResult())
	}

	return ProcRes{
		State:     state.String(),
		Errors:    rec.Errors(),
		Pid:       rec.Pid,
		ProcStat:  procStat,
		ProcStatm: procStatm,
		Times: Times{
			Start:   rec.StartTime.Format(time.RFC3339Nano),
			Stop:    stopStr,
			Elapsed: rec.Elapsed(now).Seconds(),
		},
		Status: statusRes,
		Rusage: rusageRes,
		Fds:    fds,
	}
}

func toFdRes(fr FdResult) *FdRes {
	switch fr.Kind {
	case FdResultNone:
		return nil
	case FdResultFile:
		return &FdRes{Type: "file", Path: fr.Path}
	case FdResultCapture:
		return &FdRes{Type: "capture", Path: fr.Path, Encoding: string(fr.Encoding), Data: fr.Data, Truncated: fr.Truncated}
	case FdResultError:
		return &FdRes{Type: "error", Message: fr.Message}
	default:
		return nil
	}
}

// ToRes projects a whole id->Record map into the top-level Res document.
func ToRes(records map[string]*Record) Res {
	out := make(Res, len(records))
	for id, rec := range records {
		out[id] = ToResult(rec)
	}
	return out
}
