package scan

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"
)

// maxChunk bounds one INSTREAM chunk; clamd's default StreamMaxLength is
// far above this, and smaller chunks keep memory pressure flat.
const maxChunk = 2 << 20

// ClamdScanner talks the clamd INSTREAM protocol over TCP.
type ClamdScanner struct {
	addr    string
	timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewClamdScanner(addr string, timeout time.Duration) *ClamdScanner {
	d := &net.Dialer{}
	return &ClamdScanner{addr: addr, timeout: timeout, dial: d.DialContext}
}

// Scan streams data to clamd and interprets the one-line reply. Every
// transport failure — dial, deadline, short write, malformed reply — comes
// back as an unavailable verdict, never as clean.
func (s *ClamdScanner) Scan(ctx context.Context, data []byte) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dial(ctx, "tcp", s.addr)
	if err != nil {
		return unavailable(fmt.Errorf("dial scanner: %w", err)), nil
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := writeInstream(conn, data); err != nil {
		return unavailable(fmt.Errorf("send to scanner: %w", err)), nil
	}

	reply, err := bufio.NewReader(conn).ReadString('\x00')
	if err != nil {
		return unavailable(fmt.Errorf("read scanner reply: %w", err)), nil
	}

	return parseReply(strings.TrimRight(reply, "\x00\n")), nil
}

func writeInstream(conn net.Conn, data []byte) error {
	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return err
	}

	var size [4]byte
	for off := 0; off < len(data); off += maxChunk {
		end := off + maxChunk
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		binary.BigEndian.PutUint32(size[:], uint32(len(chunk)))
		if _, err := conn.Write(size[:]); err != nil {
			return err
		}
		if _, err := conn.Write(chunk); err != nil {
			return err
		}
	}

	// zero-length chunk terminates the stream
	binary.BigEndian.PutUint32(size[:], 0)
	_, err := conn.Write(size[:])
	return err
}

// parseReply maps clamd's reply line to a verdict:
//
//	"stream: OK"            → clean
//	"stream: Eicar FOUND"   → infected("Eicar")
//	anything else           → unavailable
func parseReply(line string) Verdict {
	switch {
	case strings.HasSuffix(line, "OK"):
		return Verdict{Status: StatusClean}
	case strings.HasSuffix(line, "FOUND"):
		threat := strings.TrimSuffix(line, " FOUND")
		if i := strings.Index(threat, ": "); i >= 0 {
			threat = threat[i+2:]
		}
		return Verdict{Status: StatusInfected, Threat: threat}
	default:
		return unavailable(fmt.Errorf("unexpected scanner reply: %q", line))
	}
}

func unavailable(err error) Verdict {
	return Verdict{Status: StatusUnavailable, Detail: err.Error()}
}
