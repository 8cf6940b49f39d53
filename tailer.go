package autofilter

import (
	"bufio"
	"context"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// lines read before the tailer looks at the file again
	tailBurst = 1024

	catchUpSleep  = time.Second
	archiveSuffix = ".big"
)

// LineFunc consumes one log line.
type LineFunc func(line string)

// Tailer follows a growing log file. In follow mode it survives rotations
// by watching the path's inode between read bursts, and it rotates the file
// itself when it grows past maxSize: rename to a sidecar archive, recreate
// with the owner and mode the web server expects, then ask the server to
// reopen its descriptors. After a rotation or an inode change it switches to
// the file now at the path right away; lines still unread in the old file,
// including any the server writes there before it reopens, are not read.
type Tailer struct {
	path     string
	follow   bool
	maxSize  int64
	notifier *Notifier

	file    *os.File
	reader  *bufio.Reader
	inode   uint64
	partial []byte
}

// NewTailer opens path and records its identity. When follow is false the
// tailer stops at EOF instead of waiting for more lines.
func NewTailer(path string, follow bool, maxSize int64, notifier *Notifier) (*Tailer, error) {
	t := &Tailer{
		path:     path,
		follow:   follow,
		maxSize:  maxSize,
		notifier: notifier,
	}

	if err := t.open(); err != nil {
		return nil, err
	}

	return t, nil
}

// Run yields lines to fn until the context is canceled, EOF is reached in
// once mode, or the log path disappears.
func (t *Tailer) Run(ctx context.Context, fn LineFunc) error {
	defer func() { t.file.Close() }()

	// lines read after cancellation are not handed on, so no new flush starts
	yield := func(line string) {
		if ctx.Err() == nil {
			fn(line)
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := t.readBurst(yield)
		if err != nil && err != io.EOF {
			return errors.Wrapf(err, "can't read %s", t.path)
		}

		if err == io.EOF {
			if !t.follow {
				t.flushPartial(yield)
				return nil
			}

			if err := t.check(); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(catchUpSleep):
			}
			continue
		}

		if t.follow && n == tailBurst {
			if err := t.check(); err != nil {
				return err
			}
		}
	}
}

func (t *Tailer) readBurst(fn LineFunc) (int, error) {
	for n := 0; n < tailBurst; n++ {
		chunk, err := t.reader.ReadString('\n')
		if err == io.EOF {
			if chunk != "" {
				t.partial = append(t.partial, chunk...)
			}
			return n, io.EOF
		}
		if err != nil {
			return n, err
		}

		line := string(t.partial) + chunk[:len(chunk)-1]
		t.partial = t.partial[:0]
		fn(line)
	}

	return tailBurst, nil
}

// check stats the log path, rotates an oversized file and reopens when the
// path points at a new inode.
func (t *Tailer) check() error {
	fi, err := os.Stat(t.path)
	if err != nil {
		return errors.Wrapf(err, "log file %s is gone", t.path)
	}

	if fi.Size() > t.maxSize {
		if err := t.rotate(fi); err != nil {
			return err
		}
		// re-stat: the path now points at the freshly created file
		if fi, err = os.Stat(t.path); err != nil {
			return errors.Wrapf(err, "log file %s is gone after rotation", t.path)
		}
	}

	if inodeOf(fi) != t.inode {
		log.Infof("%s changed identity, reopening", t.path)
		t.file.Close()
		return t.open()
	}

	return nil
}

// rotate renames the oversized log aside, recreates it with the identity
// the web server writes as, and asks the server to reopen its descriptors.
// The caller's inode check then switches to the recreated file at once; the
// renamed file is not read any further.
func (t *Tailer) rotate(fi os.FileInfo) error {
	st := fi.Sys().(*syscall.Stat_t)
	archive := t.path + archiveSuffix

	log.Infof("%s is %s, rotating to %s", t.path, humanize.Bytes(uint64(fi.Size())), archive)

	if err := os.Rename(t.path, archive); err != nil {
		return errors.Wrapf(err, "can't rotate %s", t.path)
	}

	fh, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY, fi.Mode().Perm())
	if err != nil {
		return errors.Wrapf(err, "can't recreate %s", t.path)
	}
	fh.Close()

	if err := os.Chmod(t.path, fi.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "can't restore mode of %s", t.path)
	}
	if err := os.Chown(t.path, int(st.Uid), int(st.Gid)); err != nil {
		log.Warnf("can't restore owner of %s: %s", t.path, err)
	}

	if t.notifier != nil {
		if err := t.notifier.Reopen(); err != nil {
			log.Warnf("can't ask the web server to reopen its logs: %s", err)
		}
	}

	rotationsTotal.Inc()

	// give the server a moment to let go of the old descriptor
	time.Sleep(catchUpSleep)

	return nil
}

func (t *Tailer) flushPartial(fn LineFunc) {
	if len(t.partial) > 0 {
		fn(string(t.partial))
		t.partial = t.partial[:0]
	}
}

func (t *Tailer) open() error {
	fh, err := os.Open(t.path)
	if err != nil {
		return errors.Wrapf(err, "can't open log file %s", t.path)
	}

	fi, err := fh.Stat()
	if err != nil {
		fh.Close()
		return errors.Wrapf(err, "can't stat log file %s", t.path)
	}

	t.file = fh
	t.reader = bufio.NewReader(fh)
	t.inode = inodeOf(fi)
	t.partial = t.partial[:0]

	return nil
}

func inodeOf(fi os.FileInfo) uint64 {
	return fi.Sys().(*syscall.Stat_t).Ino
}
