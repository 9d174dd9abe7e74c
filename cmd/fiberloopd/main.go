// Command fiberloopd is a small demonstration server: one listener answers
// every request with a fixed greeting, the other echoes whatever it reads.
package main

import (
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/joeycumines/stumpy"
	"golang.org/x/sys/unix"

	fiberloop "github.com/joeycumines/go-fiberloop"
)

const bufferSize = 8192

const greeting = "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 26\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nWelcome to the fiber loop!"

func greetingProc(fd int, r *fiberloop.Routine) int64 {
	var buf [bufferSize]byte
	n, err := r.Read(fd, buf[:])
	if err != nil || n <= 0 {
		return -1
	}

	resp := []byte(greeting)
	wrt := 0
	for wrt < len(resp) {
		w, err := r.Write(fd, resp[wrt:])
		if err != nil {
			return -1
		}
		wrt += w
	}
	return 0
}

func echoProc(fd int, r *fiberloop.Routine) int64 {
	var buf [bufferSize]byte
	for {
		n, err := r.Read(fd, buf[:])
		if err != nil || n <= 0 {
			return 0
		}
		wrt := 0
		for wrt < n {
			w, err := r.Write(fd, buf[wrt:n])
			if err != nil {
				return -1
			}
			wrt += w
		}
	}
}

func listenTCP(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 512); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func main() {
	greetPort := flag.Int("greet-port", 8080, "greeting listener port")
	echoPort := flag.Int("echo-port", 8081, "echo listener port")
	flag.Parse()

	logger := stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr))).Logger()

	rt, err := fiberloop.New(
		fiberloop.WithStackSize(64*1024),
		fiberloop.WithPoolLimits(256, 512),
		fiberloop.WithShrink(time.Minute, 16),
		fiberloop.WithLogger(logger),
	)
	if err != nil {
		logger.Err().Err(err).Log("runtime init failed")
		os.Exit(1)
	}

	for _, l := range []struct {
		port int
		proc fiberloop.Handler
	}{
		{*greetPort, greetingProc},
		{*echoPort, echoProc},
	} {
		fd, err := listenTCP(l.port)
		if err != nil {
			logger.Err().Int("port", l.port).Err(err).Log("listen failed")
			os.Exit(1)
		}
		if err := rt.AddListen(fd, l.proc); err != nil {
			logger.Err().Int("port", l.port).Err(err).Log("add listen failed")
			os.Exit(1)
		}
		logger.Info().Int("port", l.port).Log("listening")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, unix.SIGHUP, unix.SIGTERM)
	go func() {
		<-sig
		logger.Info().Log("shutting down")
		rt.Stop()
	}()

	if err := rt.RunLoop(); err != nil {
		logger.Err().Err(err).Log("run loop failed")
		os.Exit(1)
	}
}
