package luahost

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/scribe/internal/backend"
	sp "github.com/seantiz/scribe/internal/backend/subprocess"
)

// ReadStatus reports the CPU ticks, virtual memory size and pid of the
// current process. It returns backend.ErrStatusUnavailable off Linux.
func ReadStatus() (sp.StatusReply, error) {
	if runtime.GOOS != "linux" {
		return sp.StatusReply{}, backend.ErrStatusUnavailable
	}
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return sp.StatusReply{}, backend.ErrStatusUnavailable
	}
	return parseStat(string(data), os.Getpid())
}

// parseStat parses a /proc/<pid>/stat line.
func parseStat(line string, pid int) (sp.StatusReply, error) {
	// The command name is parenthesized and may itself contain spaces or
	// parentheses.
	end := strings.LastIndexByte(line, ')')
	if end < 0 {
		return sp.StatusReply{}, fmt.Errorf("malformed stat line")
	}
	// fields[0] is field 3 of the line, the process state.
	fields := strings.Fields(line[end+1:])
	if len(fields) < 21 {
		return sp.StatusReply{}, fmt.Errorf("stat line has %d fields after the command", len(fields))
	}
	utime, err := strconv.ParseInt(fields[11], 10, 64)
	if err != nil {
		return sp.StatusReply{}, fmt.Errorf("parse utime: %w", err)
	}
	stime, err := strconv.ParseInt(fields[12], 10, 64)
	if err != nil {
		return sp.StatusReply{}, fmt.Errorf("parse stime: %w", err)
	}
	vsize, err := strconv.ParseUint(fields[20], 10, 64)
	if err != nil {
		return sp.StatusReply{}, fmt.Errorf("parse vsize: %w", err)
	}
	return sp.StatusReply{CPUTicks: utime + stime, VSize: vsize, PID: pid}, nil
}

// processCPU is the os.clock source of the child.
func processCPU() time.Duration {
	st, err := ReadStatus()
	if err != nil {
		return 0
	}
	return time.Duration(st.CPUTicks) * 10 * time.Millisecond
}
