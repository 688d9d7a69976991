package sessionlog

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// lockFileContents records pid/host in the lock file purely for stale-lock
// diagnosis; the flock itself, not this content, is the coordination
// primitive (spec.md §5).
type lockFileContents struct {
	PID  int    `json:"pid"`
	Host string `json:"host"`
}

// sessionLock holds an exclusive, non-blocking flock on a session's lock
// file. Adapted from the teacher's PID-file locking pattern
// (internal/lifecycle/pidfile.go): O_CREATE (not O_EXCL, since the lock
// file is expected to persist across sessions) plus LOCK_EX|LOCK_NB so a
// busy lock fails fast instead of blocking the caller.
type sessionLock struct {
	path string
	file *os.File
}

// acquireLock takes the exclusive session lock. Returns *wrerrors.SessionHealthError
// with Code=SessionLockBusy (retryable) if another process holds it.
func acquireLock(path string) (*sessionLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionLockBusy, Reason: "session is locked by another process", Retryable: true, AfterMs: 200}
		}
		return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}

	host, _ := os.Hostname()
	contents := fmt.Sprintf(`{"pid":%d,"host":%q}`, os.Getpid(), host)
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(contents), 0)
		f.Sync()
	}

	return &sessionLock{path: path, file: f}, nil
}

func (l *sessionLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}

// Witness is the opaque value WithHealthySessionLock produces: proof that
// the session lock is held and the session loaded healthy at the time it
// was minted. Mutating operations (Append) require one. Using a witness
// after release fails fast with SessionLockReentrant — not because the
// lock is reentrant, but because a stale witness indicates a caller bug
// (holding a witness past its scope) that the spec classifies the same
// way as reentrancy: a fatal invariant violation, not a retryable state.
type Witness struct {
	sessionID string
	mintedAt  time.Time
	released  *bool
}

func (w *Witness) checkLive() error {
	if w == nil || w.released == nil || *w.released {
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionLockReentrant, Reason: "witness used after its lock scope ended"}
	}
	return nil
}
