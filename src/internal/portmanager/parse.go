package portmanager

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// parseLsofPIDs parses `lsof -t` output: one PID per line.
func parseLsofPIDs(output []byte) []int {
	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// parseNetstatPIDs parses `netstat -ano -p TCP` output and returns the PIDs
// of rows in LISTENING state whose local address ends in :port.
//
//	Proto  Local Address          Foreign Address        State           PID
//	TCP    0.0.0.0:3620           0.0.0.0:0              LISTENING       4242
func parseNetstatPIDs(output []byte, port int) []int {
	suffix := ":" + strconv.Itoa(port)

	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || !strings.EqualFold(fields[0], "TCP") {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) || fields[3] != "LISTENING" {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
