package procs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var procstatLog = logrus.WithField("component", "procstat")

// ProcStat is a parsed snapshot of /proc/<pid>/stat, taken before a process
// is reaped. Field names follow proc(5); only the fields useful to a result
// consumer are kept.
type ProcStat struct {
	Pid         int    `json:"pid"`
	Comm        string `json:"comm"`
	State       string `json:"state"`
	Ppid        int    `json:"ppid"`
	Pgrp        int    `json:"pgrp"`
	Session     int    `json:"session"`
	Utime       uint64 `json:"utime"`
	Stime       uint64 `json:"stime"`
	NumThreads  int64  `json:"num_threads"`
	Starttime   uint64 `json:"starttime"`
	Vsize       uint64 `json:"vsize"`
	Rss         int64  `json:"rss"`
}

// ProcStatm is a parsed snapshot of /proc/<pid>/statm, page counts per
// proc(5); only meaningful while the process is still running.
type ProcStatm struct {
	Size     int64 `json:"size"`
	Resident int64 `json:"resident"`
	Shared   int64 `json:"shared"`
	Text     int64 `json:"text"`
	Data     int64 `json:"data"`
}

// LoadProcStat reads and parses /proc/<pid>/stat. The caller must invoke
// this before the wait() call that reaps pid, since /proc/<pid> disappears
// once the pid is reaped.
func LoadProcStat(pid int) (*ProcStat, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, err
	}
	return parseProcStat(pid, string(data))
}

// LoadProcStatOrLog is LoadProcStat, but logs and returns nil on failure
// rather than propagating the error: a /proc/<pid>/stat read failure is
// logged and the field left absent, never fatal.
func LoadProcStatOrLog(pid int) *ProcStat {
	stat, err := LoadProcStat(pid)
	if err != nil {
		procstatLog.WithField("pid", pid).Debugf("failed to read /proc/%d/stat: %v", pid, err)
		return nil
	}
	return stat
}

// LoadProcStatm reads and parses /proc/<pid>/statm. Only meaningful for a
// still-running process.
func LoadProcStatm(pid int) (*ProcStatm, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 5 {
		return nil, fmt.Errorf("procstat: malformed statm: %q", data)
	}
	vals := make([]int64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("procstat: malformed statm field %d: %w", i, err)
		}
		vals[i] = v
	}
	return &ProcStatm{Size: vals[0], Resident: vals[1], Shared: vals[2], Text: vals[3], Data: vals[4]}, nil
}

// LoadProcStatmOrLog is LoadProcStatm, logging and returning nil on failure.
func LoadProcStatmOrLog(pid int) *ProcStatm {
	stat, err := LoadProcStatm(pid)
	if err != nil {
		procstatLog.WithField("pid", pid).Debugf("failed to read /proc/%d/statm: %v", pid, err)
		return nil
	}
	return stat
}

// parseProcStat parses the whitespace-separated /proc/<pid>/stat line. The
// comm field (field 2) is parenthesized and may itself contain spaces and
// parens, so it is extracted by its outermost-paren bracketing rather than
// naive field splitting.
func parseProcStat(pid int, line string) (*ProcStat, error) {
	line = strings.TrimRight(line, "\n")
	open := strings.IndexByte(line, '(')
	close := strings.LastIndexByte(line, ')')
	if open < 0 || close < 0 || close < open {
		return nil, fmt.Errorf("procstat: malformed stat line for pid %d", pid)
	}
	comm := line[open+1 : close]
	rest := strings.Fields(line[close+1:])
	// rest[0] is state; the remaining indices below follow proc(5),
	// offset by the two fields (pid, comm) already consumed.
	const (
		idxState = iota
		idxPpid
		idxPgrp
		idxSession
		idxTtyNr
		idxTpgid
		idxFlags
		idxMinflt
		idxCminflt
		idxMajflt
		idxCmajflt
		idxUtime
		idxStime
		idxCutime
		idxCstime
		idxPriority
		idxNice
		idxNumThreads
		idxItrealvalue
		idxStarttime
		idxVsize
		idxRss
	)
	if len(rest) <= idxRss {
		return nil, fmt.Errorf("procstat: too few fields in stat line for pid %d", pid)
	}
	get := func(i int) uint64 {
		v, _ := strconv.ParseUint(rest[i], 10, 64)
		return v
	}
	getSigned := func(i int) int64 {
		v, _ := strconv.ParseInt(rest[i], 10, 64)
		return v
	}
	return &ProcStat{
		Pid:        pid,
		Comm:       comm,
		State:      rest[idxState],
		Ppid:       int(get(idxPpid)),
		Pgrp:       int(get(idxPgrp)),
		Session:    int(get(idxSession)),
		Utime:      get(idxUtime),
		Stime:      get(idxStime),
		NumThreads: getSigned(idxNumThreads),
		Starttime:  get(idxStarttime),
		Vsize:      get(idxVsize),
		Rss:        getSigned(idxRss),
	}, nil
}
