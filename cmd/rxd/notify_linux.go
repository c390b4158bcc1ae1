package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// notifyReady tells systemd the endpoint is listening, status is shown by systemctl status.
// https://www.freedesktop.org/software/systemd/man/sd_notify.html
func notifyReady(l *logrus.Logger, status string) {
	sockName := os.Getenv("NOTIFY_SOCKET")
	if sockName == "" {
		l.Debugln("NOTIFY_SOCKET systemd env var not set, not sending ready signal")
		return
	}

	conn, err := net.DialTimeout("unixgram", sockName, time.Second)
	if err != nil {
		l.WithError(err).Error("Failed to connect to systemd notification socket")
		return
	}
	defer conn.Close()

	if err = conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		l.WithError(err).Error("Failed to set the write deadline for the systemd notification socket")
		return
	}

	msg := fmt.Sprintf("READY=1\nMAINPID=%d\nSTATUS=%s", os.Getpid(), status)
	if _, err = conn.Write([]byte(msg)); err != nil {
		l.WithError(err).Error("Failed to signal the systemd notification socket")
		return
	}

	l.WithField("status", status).Debug("Notified systemd the endpoint is ready")
}
