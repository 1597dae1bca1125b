package notify

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lms-course-sync/internal/domain"
)

// fakeSMTP accepts one session without STARTTLS or AUTH and returns the
// DATA payload on the channel.
func fakeSMTP(t *testing.T) (host string, port int, got <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	ch := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { conn.Write([]byte(s + "\r\n")) }

		reply("220 fake ESMTP")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if inData {
				if line == "." {
					inData = false
					ch <- data.String()
					reply("250 queued")
					continue
				}
				data.WriteString(line + "\n")
				continue
			}
			switch cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); cmd {
			case "EHLO", "HELO":
				reply("250 fake")
			case "MAIL", "RCPT":
				reply("250 ok")
			case "DATA":
				inData = true
				reply("354 go ahead")
			case "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 unknown")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, ch
}

func TestSMTPNotifierSend(t *testing.T) {
	host, port, got := fakeSMTP(t)
	n, err := NewSMTP(SMTPConfig{Host: host, Port: port, From: "sync@example.com", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := n.Send(context.Background(), "admin@example.com", "Course sync", "line one\nline two"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	select {
	case msg := <-got:
		for _, want := range []string{"To: admin@example.com", "Subject: Course sync", "Content-Type: text/plain; charset=UTF-8", "line one", "line two"} {
			if !strings.Contains(msg, want) {
				t.Errorf("Expected message to contain %q, got:\n%s", want, msg)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected message to be delivered")
	}
}

func TestSMTPNotifierRequireTLS(t *testing.T) {
	host, port, _ := fakeSMTP(t)
	n, err := NewSMTP(SMTPConfig{Host: host, Port: port, From: "sync@example.com", RequireTLS: true, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	err = n.Send(context.Background(), "admin@example.com", "s", "b")
	if err == nil || !strings.Contains(err.Error(), "STARTTLS") {
		t.Errorf("Expected STARTTLS error, got %v", err)
	}
}

func TestSMTPNotifierValidation(t *testing.T) {
	if _, err := NewSMTP(SMTPConfig{From: "a@b.c"}); err == nil {
		t.Error("Expected error without host")
	}
	n, err := NewSMTP(SMTPConfig{Host: "localhost", From: "a@b.c"})
	if err != nil {
		t.Fatal(err)
	}
	if n.cfg.Port != 587 {
		t.Errorf("Expected default port 587, got %d", n.cfg.Port)
	}
	if err := n.Send(context.Background(), " ", "s", "b"); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("Expected ErrNoRecipient, got %v", err)
	}
}

func TestSMTPNotifierDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	n, _ := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: port, From: "a@b.c", Timeout: time.Second})
	err = n.Send(context.Background(), "x@y.z", "s", "b")
	if err == nil || !strings.Contains(err.Error(), "dial 127.0.0.1:"+strconv.Itoa(port)) {
		t.Errorf("Expected dial error, got %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Log: zerolog.New(&buf)}
	if err := n.Send(context.Background(), "admin@example.com", "Hello", "Body"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(buf.String(), `"subject":"Hello"`) {
		t.Errorf("Expected subject in log, got %s", buf.String())
	}
	if err := n.Send(context.Background(), "", "Hello", "Body"); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("Expected ErrNoRecipient, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	sum := domain.SyncSummary{
		RunID:    "run-1",
		Imported: 2,
		Skipped:  1,
		Errors:   0,
		Total:    3,
		Courses: []domain.ImportedCourse{
			{RemoteID: 1, LocalID: 10, Title: "Deaf 101", Slug: "deaf-101"},
			{RemoteID: 2, LocalID: 11, Title: "ASL II", Slug: "asl-ii"},
		},
	}
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	subject, body := Summary(sum, "https://school.example.com/", at)
	if subject != "Course sync: 2 new course(s) imported" {
		t.Errorf("Unexpected subject %q", subject)
	}
	for _, want := range []string{
		"Imported: 2\nSkipped: 1\nErrors: 0\nTotal: 3",
		"- Deaf 101: https://school.example.com/courses/deaf-101",
		"- ASL II: https://school.example.com/courses/asl-ii",
		"Run: run-1",
		"2026-03-01 09:30 UTC",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected body to contain %q, got:\n%s", want, body)
		}
	}

	_, body = Summary(sum, "", at)
	if strings.Contains(body, "http") {
		t.Errorf("Expected no links without a site URL, got:\n%s", body)
	}
}
