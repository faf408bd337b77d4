// Package runlock provides a PID-file lock that serializes executor runs.
//
// Cron fires the executor on a fixed schedule with no knowledge of whether
// the previous run finished. The lock makes an overlapping invocation a
// clean no-op instead of a double publish. A lock left behind by a crashed
// run is reclaimed once its holder's process is gone.
package runlock

import (
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/hokuto/pressbeat/errors"
)

// ErrLockHeld indicates another live process holds the lock
var ErrLockHeld = errors.New("run lock held by another process")

// Prober checks whether a process is still alive
type Prober interface {
	Alive(pid int) (bool, error)
}

// ProcessProber probes real PIDs via the process table
type ProcessProber struct{}

// Alive reports whether the PID exists
func (ProcessProber) Alive(pid int) (bool, error) {
	return process.PidExists(int32(pid))
}

// Lock is a PID-file based inter-process lock
type Lock struct {
	path   string
	prober Prober
	logger *zap.SugaredLogger
	held   bool
}

// New creates a lock backed by the real process table
func New(path string, logger *zap.SugaredLogger) *Lock {
	return NewWithProber(path, ProcessProber{}, logger)
}

// NewWithProber creates a lock with a custom liveness prober
func NewWithProber(path string, prober Prober, logger *zap.SugaredLogger) *Lock {
	return &Lock{path: path, prober: prober, logger: logger}
}

// Acquire takes the lock, reclaiming it if the recorded holder is dead.
// Returns ErrLockHeld when a live process holds it.
func (l *Lock) Acquire() error {
	// Two passes at most: create, or reclaim-then-create
	for attempt := 0; attempt < 2; attempt++ {
		err := l.tryCreate()
		if err == nil {
			l.held = true
			return nil
		}
		if !os.IsExist(err) {
			return errors.Wrapf(err, "failed to create lock file %s", l.path)
		}

		holder, readErr := l.readHolder()
		if readErr != nil {
			// Corrupt or vanished lock file counts as stale
			if l.logger != nil {
				l.logger.Warnw("Reclaiming unreadable lock file",
					"path", l.path,
					"error", readErr,
				)
			}
			if err := l.reclaim(); err != nil {
				return err
			}
			continue
		}

		alive, probeErr := l.prober.Alive(holder)
		if probeErr != nil {
			return errors.Wrapf(probeErr, "failed to probe lock holder pid %d", holder)
		}
		if alive {
			return errors.Wrapf(ErrLockHeld, "pid %d", holder)
		}

		if l.logger != nil {
			l.logger.Warnw("Reclaiming stale lock from dead process",
				"path", l.path,
				"stale_pid", holder,
			)
		}
		if err := l.reclaim(); err != nil {
			return err
		}
	}

	// A reclaim succeeded but another process re-created the file first
	return errors.Wrap(ErrLockHeld, "lost reclaim race")
}

// Release removes the lock file. Releasing a lock that was never acquired
// is a no-op.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove lock file %s", l.path)
	}
	return nil
}

// Held reports whether this process currently holds the lock
func (l *Lock) Held() bool {
	return l.held
}

func (l *Lock) tryCreate() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		os.Remove(l.path)
		return errors.Wrap(err, "failed to write pid to lock file")
	}
	return nil
}

func (l *Lock) readHolder() (int, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid pid in lock file %s", l.path)
	}
	return pid, nil
}

func (l *Lock) reclaim() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to reclaim lock file %s", l.path)
	}
	return nil
}
