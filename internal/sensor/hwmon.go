package sensor

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/profilectl/internal/errors"
)

const (
	DefaultHwmonPath   = "/sys/class/hwmon"
	DefaultReadTimeout = 200 * time.Millisecond

	milliDegreesPerDegree = 1000.0
)

// Hwmon reads temp*_input and fan*_input entries below a hwmon class directory.
// Readings are keyed "<device>:<label>", falling back to "<device>:<entry>"
// when the entry has no label file.
type Hwmon struct {
	root    string
	timeout time.Duration
	now     func() time.Time
	read    func(string) ([]byte, error)

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewHwmon creates a hwmon source rooted at path. Each file read is bounded by timeout.
func NewHwmon(path string, timeout time.Duration) *Hwmon {
	if path == "" {
		path = DefaultHwmonPath
	}
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	return &Hwmon{
		root:    path,
		timeout: timeout,
		now:     time.Now,
		read:    os.ReadFile,
		pending: make(map[string]struct{}),
	}
}

func (*Hwmon) Name() string {
	return "hwmon"
}

func (h *Hwmon) Read(ctx context.Context) ([]Reading, []error) {
	errFactory := errors.New()

	devices, err := filepath.Glob(filepath.Join(h.root, "hwmon*"))
	if err != nil {
		return nil, []error{errFactory.Wrap(ErrEnumerate, err)}
	}
	if len(devices) == 0 {
		return nil, []error{errFactory.WithData(ErrEnumerate, h.root)}
	}

	var (
		readings []Reading
		failures []error
	)

	for _, dir := range devices {
		if ctx.Err() != nil {
			failures = append(failures, errFactory.Wrap(ErrReadTimeout, ctx.Err()))
			break
		}

		raw, err := h.readFile(ctx, filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		device := strings.TrimSpace(string(raw))

		entries, err := os.ReadDir(dir)
		if err != nil {
			failures = append(failures, errFactory.Wrap(ErrEnumerate, err))
			continue
		}
		// listing order is not guaranteed by the kernel
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			kind, ok := classify(entry.Name())
			if !ok {
				continue
			}

			r, err := h.readEntry(ctx, dir, device, entry.Name(), kind)
			if err != nil {
				failures = append(failures, err)
				continue
			}
			readings = append(readings, r)
		}
	}

	return readings, failures
}

func (h *Hwmon) readEntry(ctx context.Context, dir, device, entry string, kind Kind) (Reading, error) {
	errFactory := errors.New()
	path := filepath.Join(dir, entry)

	raw, err := h.readFile(ctx, path)
	if err != nil {
		return Reading{}, err
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return Reading{}, errFactory.Wrap(ErrParseEntry, err).WithData(path)
	}
	if kind == Temperature {
		value /= milliDegreesPerDegree
	}

	key := entry
	if label, err := h.readFile(ctx, strings.TrimSuffix(path, "_input")+"_label"); err == nil {
		if l := strings.TrimSpace(string(label)); l != "" {
			key = l
		}
	}

	return Reading{
		Source:    device + ":" + key,
		Kind:      kind,
		Value:     value,
		Timestamp: h.now(),
	}, nil
}

type readResult struct {
	data []byte
	err  error
}

// readFile gives up after the configured timeout. A read stuck in the kernel
// keeps its goroutine; the path is not read again until that read returns,
// so a hung file costs one goroutine, not one per tick.
func (h *Hwmon) readFile(ctx context.Context, path string) ([]byte, error) {
	errFactory := errors.New()

	h.mu.Lock()
	if _, busy := h.pending[path]; busy {
		h.mu.Unlock()
		return nil, errFactory.WithMessage(ErrReadTimeout, "previous read still pending").WithData(path)
	}
	h.pending[path] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan readResult, 1)
	go func() {
		data, err := h.read(path)

		h.mu.Lock()
		delete(h.pending, path)
		h.mu.Unlock()

		done <- readResult{data: data, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, errFactory.Wrap(ErrReadEntry, res.err)
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, errFactory.Wrap(ErrReadTimeout, ctx.Err()).WithData(path)
	}
}

func classify(entry string) (Kind, bool) {
	if !strings.HasSuffix(entry, "_input") {
		return 0, false
	}

	switch {
	case strings.HasPrefix(entry, "temp"):
		return Temperature, true
	case strings.HasPrefix(entry, "fan"):
		return FanSpeed, true
	}

	return 0, false
}
