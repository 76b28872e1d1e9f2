package backends

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// SessionCounter reports current sessions per forwarded local port.
type SessionCounter interface {
	Sessions(ctx context.Context) (map[int]int, error)
}

// StatsSocket queries the haproxy runtime API over its unix socket.
type StatsSocket struct {
	Path    string
	Timeout time.Duration
}

// Sessions runs `show stat` and returns scur of every fwd_<port> frontend.
func (s StatsSocket) Sessions(ctx context.Context) (map[int]int, error) {
	if s.Path == "" {
		return nil, fmt.Errorf("no stats socket configured")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stats socket %s: %w", s.Path, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, "show stat\n"); err != nil {
		return nil, fmt.Errorf("failed to query stats socket: %w", err)
	}
	return ParseShowStat(conn)
}

// ParseShowStat parses the CSV output of `show stat`.
func ParseShowStat(r io.Reader) (map[int]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = 0

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read stats header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(strings.TrimPrefix(name, "# "))] = i
	}
	px, okPx := col["pxname"]
	sv, okSv := col["svname"]
	cur, okCur := col["scur"]
	if !okPx || !okSv || !okCur {
		return nil, fmt.Errorf("unexpected stats header %q", strings.Join(header, ","))
	}

	sessions := make(map[int]int)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read stats: %w", err)
		}
		if len(rec) <= cur || len(rec) <= px || len(rec) <= sv || rec[sv] != "FRONTEND" {
			continue
		}
		port, ok := strings.CutPrefix(rec[px], "fwd_")
		if !ok {
			continue
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(rec[cur])
		if err != nil {
			continue
		}
		sessions[p] = n
	}
	return sessions, nil
}
