// Package logsource follows job log files on disk for the relay server.
package logsource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pipetail/internal/clock"
	"pkt.systems/pipetail/schema"
	"pkt.systems/pslog"
)

const (
	logSuffix  = ".log"
	doneSuffix = ".done"
)

// Options tunes a Dir.
type Options struct {
	// PollInterval rechecks files when no change notification arrives.
	PollInterval time.Duration
	// BatchLines caps the lines handed to emit at once.
	BatchLines int
	Clock      clock.Clock
	Logger     pslog.Logger
}

// Dir maps job ids to <root>/<id>.log with a <root>/<id>.done completion
// marker.
type Dir struct {
	root  string
	poll  time.Duration
	batch int
	clock clock.Clock
	log   pslog.Logger
}

// NewDir returns a Dir rooted at root.
func NewDir(root string, opts Options) *Dir {
	if opts.PollInterval <= 0 {
		opts.PollInterval = schema.DefaultPollInterval
	}
	if opts.BatchLines <= 0 {
		opts.BatchLines = schema.DefaultBatchLines
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = pslog.Ctx(context.Background())
	}
	return &Dir{
		root:  root,
		poll:  opts.PollInterval,
		batch: opts.BatchLines,
		clock: opts.Clock,
		log:   opts.Logger,
	}
}

// Root returns the directory being served.
func (d *Dir) Root() string {
	return d.root
}

// LogPath returns the log file of a job.
func (d *Dir) LogPath(id schema.JobID) string {
	return filepath.Join(d.root, string(id)+logSuffix)
}

// DonePath returns the completion marker of a job.
func (d *Dir) DonePath(id schema.JobID) string {
	return filepath.Join(d.root, string(id)+doneSuffix)
}

// Exists reports whether a job has a log file.
func (d *Dir) Exists(id schema.JobID) bool {
	info, err := os.Stat(d.LogPath(id))
	return err == nil && info.Mode().IsRegular()
}

// Done reports whether a job has finished writing its log.
func (d *Dir) Done(id schema.JobID) bool {
	_, err := os.Stat(d.DonePath(id))
	return err == nil
}

// Follow reads the job log from the start and hands complete lines to emit
// in order, waiting for appends until the completion marker appears. The
// trailing partial line is emitted once the job is done. Follow returns nil
// after the last line, ctx.Err() on cancellation, and any error emit
// returns.
func (d *Dir) Follow(ctx context.Context, id schema.JobID, emit func([]string) error) error {
	if err := schema.ValidateJobID(id); err != nil {
		return err
	}
	f, err := os.Open(d.LogPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", schema.ErrJobNotFound, id)
		}
		return fmt.Errorf("open job log: %w", err)
	}
	defer f.Close()

	log := d.log.With("job", id)
	events, stopWatch := d.watch(log)
	defer stopWatch()
	ticker := d.clock.NewTicker(d.poll)
	defer ticker.Stop()

	r := &lineReader{r: bufio.NewReader(f), batch: d.batch}
	for {
		// Check the marker before draining so a write that precedes it is
		// always read.
		done := d.Done(id)
		if err := r.drain(emit, done); err != nil {
			return err
		}
		if done {
			log.Debug("job log follow complete")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !d.relevant(id, ev.Name) {
				continue
			}
		case <-ticker.C:
		}
	}
}

func (d *Dir) relevant(id schema.JobID, name string) bool {
	name = filepath.Base(name)
	return name == string(id)+logSuffix || name == string(id)+doneSuffix
}

// watch subscribes to directory changes. When notifications are
// unavailable the returned channel is nil and Follow relies on polling.
func (d *Dir) watch(log pslog.Logger) (<-chan fsnotify.Event, func()) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("job log watch unavailable", "err", err)
		return nil, func() {}
	}
	if err := w.Add(d.root); err != nil {
		log.Warn("job log watch failed", "dir", d.root, "err", err)
		_ = w.Close()
		return nil, func() {}
	}
	go func() {
		for err := range w.Errors {
			log.Warn("job log watch error", "err", err)
		}
	}()
	return w.Events, func() { _ = w.Close() }
}

type lineReader struct {
	r       *bufio.Reader
	batch   int
	partial []byte
}

// drain emits every complete line currently readable. With final set the
// trailing partial line is emitted too.
func (l *lineReader) drain(emit func([]string) error, final bool) error {
	var lines []string
	flush := func() error {
		if len(lines) == 0 {
			return nil
		}
		out := lines
		lines = nil
		return emit(out)
	}
	for {
		chunk, err := l.r.ReadSlice('\n')
		l.partial = append(l.partial, chunk...)
		if err == nil {
			line := string(l.partial[:len(l.partial)-1])
			l.partial = l.partial[:0]
			lines = append(lines, line)
			if len(lines) >= l.batch {
				if err := flush(); err != nil {
					return err
				}
			}
			continue
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("read job log: %w", err)
		}
		break
	}
	if final && len(l.partial) > 0 {
		lines = append(lines, string(l.partial))
		l.partial = l.partial[:0]
	}
	return flush()
}
