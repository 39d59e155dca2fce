package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/tarm/serial"
)

const maxFrameLength = 128

type SerialUnavailableError struct {
	msg string
}

func (e *SerialUnavailableError) Error() string {
	return e.msg
}

// SerialSource reads telemetry frames from a serial port.
type SerialSource struct {
	Port    string
	Baud    int
	Retries int           // Attempts to get the port lock
	Wait    time.Duration // Between lock attempts
	Log     *logging.Logger

	badFrames atomic.Int64
}

// BadFrames returns how many frames were dropped as corrupt.
func (s *SerialSource) BadFrames() int64 {
	return s.badFrames.Load()
}

func (s *SerialSource) Run(ctx context.Context, out chan<- Sample) error {
	if s.Log == nil {
		s.Log = logging.NewLogger("info")
	}
	lockFile, err := lockPort(s.Port, s.Retries, s.Wait, s.Log)
	if err != nil {
		return err
	}
	defer releasePort(lockFile)

	c := &serial.Config{Name: s.Port, Baud: s.Baud, ReadTimeout: time.Second}
	port, err := serial.OpenPort(c)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		port.Close()
	}()
	s.Log.Infof("Reading battery telemetry from %s at %d baud", s.Port, s.Baud)

	// Read timeouts surface as io.EOF, so keep reading until cancelled.
	err = s.readFrames(ctx, port, out, true)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ReadFrames reads frames from r until it is exhausted, sending every valid
// sample to out. Corrupt frames are logged and skipped.
func (s *SerialSource) ReadFrames(ctx context.Context, r io.Reader, out chan<- Sample) error {
	if s.Log == nil {
		s.Log = logging.NewLogger("info")
	}
	return s.readFrames(ctx, r, out, false)
}

func (s *SerialSource) readFrames(ctx context.Context, r io.Reader, out chan<- Sample, follow bool) error {
	buf := make([]byte, 256)
	line := make([]byte, 0, maxFrameLength)
	overflow := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' {
				if len(line) < maxFrameLength {
					line = append(line, b)
				} else {
					overflow = true
				}
				continue
			}
			if overflow {
				s.badFrames.Add(1)
				s.Log.Warnf("Dropping frame longer than %d bytes", maxFrameLength)
			} else if len(bytes.TrimSpace(line)) > 0 {
				if err := s.handleLine(ctx, string(line), out); err != nil {
					return err
				}
			}
			line = line[:0]
			overflow = false
		}
		if errors.Is(err, io.EOF) {
			if follow {
				continue
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *SerialSource) handleLine(ctx context.Context, line string, out chan<- Sample) error {
	sample, err := ParseFrame(line)
	if err != nil {
		s.badFrames.Add(1)
		s.Log.Warnf("Dropping frame: %v", err)
		return nil
	}
	select {
	case out <- sample:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockPort takes an exclusive lock on the serial device so no other process
// reads frames from it.
func lockPort(path string, retries int, wait time.Duration, log *logging.Logger) (*os.File, error) {
	lockFile, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	for i := retries; ; i-- {
		err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return lockFile, nil
		}
		if errno, ok := err.(syscall.Errno); !ok || errno != syscall.EWOULDBLOCK {
			lockFile.Close()
			return nil, err
		}
		process, err := lockingProcess(path)
		if err != nil {
			log.Printf("Error checking locking process: %v", err)
		} else if process != "" {
			log.Printf("Serial port is locked by process: %s", process)
		}
		if i <= 0 {
			lockFile.Close()
			return nil, &SerialUnavailableError{msg: fmt.Sprintf("failed to get lock on %s, might be in use by other process", path)}
		}
		log.Printf("Serial port is locked. Retrying %d more times in %s...", i, wait)
		time.Sleep(wait)
	}
}

func lockingProcess(path string) (string, error) {
	cmd := exec.Command("fuser", path)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok && exitError.ExitCode() == 1 {
			// No process is using the file.
			return "", nil
		}
		return "", fmt.Errorf("failed to execute fuser: %v", err)
	}
	return output.String(), nil
}

func releasePort(lockFile *os.File) error {
	defer lockFile.Close()
	return syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
}
