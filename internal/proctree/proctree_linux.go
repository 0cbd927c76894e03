//go:build linux

package proctree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// snapshot reads every process's status under /proc directly, since no
// gopsutil-style host-enumeration library is in use here; this reads the
// kernel's own published interface instead.
func snapshot() ([]ProcessInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("readdir /proc: %w", err)
	}

	out := make([]ProcessInfo, 0, len(entries))
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		info, err := readProc(pid)
		if err != nil {
			continue // process exited between readdir and read; skip
		}
		out = append(out, info)
	}
	return out, nil
}

func readProc(pid int) (ProcessInfo, error) {
	statPath := filepath.Join("/proc", strconv.Itoa(pid), "stat")
	data, err := os.ReadFile(statPath)
	if err != nil {
		return ProcessInfo{}, err
	}

	// Fields are "pid (comm) state ppid pgrp ...". comm may itself contain
	// spaces or parens, so split on the last ')' to isolate it safely.
	text := string(data)
	lastParen := strings.LastIndexByte(text, ')')
	if lastParen < 0 {
		return ProcessInfo{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	firstParen := strings.IndexByte(text, '(')
	name := text[firstParen+1 : lastParen]
	rest := strings.Fields(text[lastParen+1:])
	if len(rest) < 3 {
		return ProcessInfo{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	ppid, _ := strconv.Atoi(rest[1])
	pgrp, _ := strconv.Atoi(rest[2])

	uid := readUID(pid)
	exe, _ := os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "exe"))

	return ProcessInfo{
		Pid:        pid,
		Ppid:       ppid,
		Pgid:       pgrp,
		UID:        uid,
		Name:       name,
		Executable: exe,
	}, nil
}

func readUID(pid int) int {
	f, err := os.Open(filepath.Join("/proc", strconv.Itoa(pid), "status"))
	if err != nil {
		return -1
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Uid:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				uid, _ := strconv.Atoi(fields[1])
				return uid
			}
		}
	}
	return -1
}

func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}
