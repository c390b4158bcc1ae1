package main

import (
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"time"

	"code.hybscloud.com/iox"
	"github.com/iziemba/rxd"
	"github.com/iziemba/rxd/config"
	"github.com/iziemba/rxd/cq"
	"github.com/iziemba/rxd/util"
	"github.com/sirupsen/logrus"
)

var Build string

func main() {
	listen := flag.String("listen", "0.0.0.0:4243", "Address to listen on")
	peer := flag.String("peer", "", "Address of the server, runs as the client when set")
	size := flag.Int("size", 64, "Message size in bytes")
	iters := flag.Int("iters", 1000, "Number of round trips")
	tagged := flag.Bool("tagged", false, "Use tagged messages")
	level := flag.String("log", "info", "Log level")
	flag.Parse()

	l := logrus.New()
	l.Out = os.Stdout

	ap, err := netip.ParseAddrPort(*listen)
	if err != nil {
		fmt.Printf("invalid -listen: %s\n", err)
		os.Exit(1)
	}

	c := config.NewC(l)
	c.Settings = map[string]any{
		"listen":  map[string]any{"host": ap.Addr().String(), "port": int(ap.Port())},
		"logging": map[string]any{"level": *level},
	}

	ctrl, err := rxd.Main(c, false, Build, l)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to start", err, l)
		os.Exit(1)
	}
	ctrl.Start()
	defer ctrl.Stop()

	p := &pingPong{ep: ctrl.Endpoint(), tagged: *tagged, buf: make([]byte, *size)}
	if *peer == "" {
		err = p.server(*iters)
	} else {
		err = p.client(*peer, *iters)
	}
	if err != nil {
		l.WithError(err).Error("Ping pong failed")
		os.Exit(1)
	}
}

type pingPong struct {
	ep     *rxd.Endpoint
	tagged bool
	buf    []byte
}

const pingTag = 0x7069

func (p *pingPong) recv(src rxd.Addr) error {
	if p.tagged {
		return retry(func() error { return p.ep.TRecv(p.buf, src, pingTag, 0, nil) })
	}
	return retry(func() error { return p.ep.Recv(p.buf, src, nil) })
}

func (p *pingPong) send(dest rxd.Addr, n int) error {
	if p.tagged {
		return retry(func() error { return p.ep.TSend(p.buf[:n], dest, pingTag, nil) })
	}
	return retry(func() error { return p.ep.Send(p.buf[:n], dest, nil) })
}

func (p *pingPong) server(iters int) error {
	for range iters {
		if err := p.recv(rxd.AddrUnspec); err != nil {
			return err
		}
		rc, err := wait(p.ep.RxCQ())
		if err != nil {
			return err
		}

		if err := p.send(rxd.Addr(rc.Src), rc.Len); err != nil {
			return err
		}
		if _, err := wait(p.ep.TxCQ()); err != nil {
			return err
		}
	}
	return nil
}

func (p *pingPong) client(peer string, iters int) error {
	ap, err := netip.ParseAddrPort(peer)
	if err != nil {
		return err
	}

	dest, err := p.ep.AddressVector().Insert(ap)
	if err != nil {
		return err
	}

	start := time.Now()
	for range iters {
		if err := p.recv(dest); err != nil {
			return err
		}
		if err := p.send(dest, len(p.buf)); err != nil {
			return err
		}
		if _, err := wait(p.ep.TxCQ()); err != nil {
			return err
		}
		if _, err := wait(p.ep.RxCQ()); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	bytes := int64(iters) * int64(len(p.buf)) * 2
	fmt.Printf("%-10s %-8s %-8s %-10s %-8s %-8s\n", "bytes", "iters", "total", "time", "MB/sec", "usec/xfer")
	fmt.Printf("%-10d %-8d %-8d %-10s %-8.2f %-8.2f\n",
		len(p.buf), iters, bytes, elapsed.Round(time.Millisecond),
		float64(bytes)/elapsed.Seconds()/1e6, float64(elapsed.Microseconds())/float64(iters)/2)
	return nil
}

// retry calls f until it stops returning rxd.ErrAgain
func retry(f func() error) error {
	var bo iox.Backoff
	for {
		err := f()
		if !rxd.IsAgain(err) {
			return err
		}
		bo.Wait()
	}
}

// wait returns the next completion on q, error completions become errors
func wait(q *cq.Queue) (cq.Entry, error) {
	var bo iox.Backoff
	buf := make([]cq.Entry, 1)
	for {
		n, err := q.Read(buf)
		switch {
		case err == nil && n > 0:
			return buf[0], nil
		case errors.Is(err, cq.ErrAvail):
			e, _ := q.ReadErr()
			return cq.Entry{}, fmt.Errorf("completion failed: %w (%s)", e.Err, e.String())
		}
		bo.Wait()
	}
}
