// Package main implements onvifeye-email, the companion alert mailer.
//
// It is designed to be wired up as a camera's camera_event_exec handler:
// the daemon invokes it as
//
//	onvifeye-email <camera-id> <EventName>/<YYYYMMDD-HHMMSS> [...]
//
// and it emails a summary of the detections, attaching the incident still
// once the daemon's image writer has produced it (waiting up to ten
// seconds). SMTP settings are read from its own JSON config at
// ~/.config/onvifeye/onvifeye-email.conf:
//
//	{
//	    "send_from": "camera@example.org",
//	    "send_to": ["you@example.org"],
//	    "server": "smtp.example.org",
//	    "port": 587,
//	    "username": "camera",
//	    "password": "..."
//	}
package main

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/digitaltrails/onvifeye-go/internal/config"
)

const attachmentWait = 10 // seconds to wait for the incident still

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: onvifeye-email <camera-id> <Event>/<YYYYMMDD-HHMMSS> [...]")
	}
	cameraID := args[0]

	detections, err := parseDetections(args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.LoadEmail(config.EmailConfPath())
	if err != nil {
		return err
	}

	attachment := waitForAttachment(imagePath(cameraID, detections))

	msg, err := composeMessage(cfg, cameraID, detections, attachment)
	if err != nil {
		return err
	}
	return send(cfg, msg)
}

// detection is one Event/timestamp pair from argv.
type detection struct {
	Name string
	When string
}

func parseDetections(args []string) ([]detection, error) {
	detections := make([]detection, 0, len(args))
	for _, arg := range args {
		name, when, ok := strings.Cut(arg, "/")
		if !ok {
			return nil, fmt.Errorf("malformed detection argument %q, want Event/timestamp", arg)
		}
		detections = append(detections, detection{Name: name, When: when})
	}
	return detections, nil
}

// imagePath locates the still the daemon's image writer saves for the
// incident (the first detection's timestamp names the file).
func imagePath(cameraID string, detections []detection) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "onvifeye", "images", cameraID, detections[0].When+".jpg")
}

// waitForAttachment polls for the still for up to attachmentWait seconds.
// Returns "" when it never appears; the mail is sent without it.
func waitForAttachment(path string) string {
	for i := 0; i < attachmentWait; i++ {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		time.Sleep(time.Second)
	}
	return ""
}

// composeMessage builds the full multipart MIME message.
func composeMessage(cfg config.EmailConfig, cameraID string, detections []detection, attachment string) ([]byte, error) {
	var descriptions []string
	for _, d := range detections {
		descriptions = append(descriptions,
			strings.ToLower(strings.TrimPrefix(d.Name, "Is"))+" at "+d.When)
	}
	subject := fmt.Sprintf("Camera %s detected %s", cameraID, strings.Join(descriptions, ","))

	var body strings.Builder
	fmt.Fprintf(&body, "Camera: %s\n\n", cameraID)
	for _, d := range detections {
		fmt.Fprintf(&body, "%s detected at %s\n", strings.TrimPrefix(d.Name, "Is"), d.When)
	}

	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", cfg.SendFrom)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(cfg.SendTo, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mp.Boundary())

	textPart, err := mp.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(body.String())); err != nil {
		return nil, err
	}

	if attachment != "" {
		data, err := os.ReadFile(attachment) // #nosec G304 - path is built from our own save layout
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		part, err := mp.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"image/jpeg"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition": {fmt.Sprintf("attachment; filename=%q",
				filepath.Base(attachment))},
		})
		if err != nil {
			return nil, err
		}
		encoder := base64.NewEncoder(base64.StdEncoding, part)
		if _, err := encoder.Write(data); err != nil {
			return nil, err
		}
		if err := encoder.Close(); err != nil {
			return nil, err
		}
	}

	if err := mp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// send delivers the message over SMTP with STARTTLS when the server offers
// it.
func send(cfg config.EmailConfig, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Server, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	if cfg.Username != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Server)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(cfg.SendFrom); err != nil {
		return err
	}
	for _, rcpt := range cfg.SendTo {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
