package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cyberinferno/go-connserver/logger"
	"github.com/cyberinferno/go-connserver/server"
)

const maxLine = 4096

// echoHandler greets the peer, echoes every line back and ends the session
// on QUIT, EOF, a line longer than maxLine, or when the peer stays silent for
// the read timeout.
type echoHandler struct {
	greeting string
}

func (h echoHandler) ProcessSession(ctx context.Context, sess *server.Session) {
	conn := sess.Conn
	log := sess.Logger()

	greeting := fmt.Sprintf("%s %s", h.greeting, sess.LogID)
	if sess.PeerName != "" {
		greeting += " hello " + sess.PeerName
	}
	if err := writeLine(conn, sess, greeting); err != nil {
		return
	}

	r := bufio.NewReaderSize(conn, maxLine)
	for ctx.Err() == nil {
		if t := sess.ReadTimeout(); t > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(t))
		}

		raw, err := r.ReadSlice('\n')
		if err != nil {
			switch {
			case errors.Is(err, bufio.ErrBufferFull):
				log.Info("line too long, closing", logger.Field{Key: "limit", Value: maxLine})
				_ = writeLine(conn, sess, "line too long")
			case errors.Is(err, os.ErrDeadlineExceeded):
				log.Info("peer idle, closing")
				_ = writeLine(conn, sess, "timeout")
			}
			return
		}

		line := strings.TrimRight(string(raw), "\r\n")
		if strings.EqualFold(line, "QUIT") {
			_ = writeLine(conn, sess, "bye")
			return
		}

		if err := writeLine(conn, sess, line); err != nil {
			log.Debug("write failed", logger.Field{Key: "error", Value: err})
			return
		}
	}
}

func writeLine(conn net.Conn, sess *server.Session, s string) error {
	if t := sess.ReadTimeout(); t > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t))
	}

	_, err := fmt.Fprintf(conn, "%s\r\n", s)
	return err
}
