package percentile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"SpotBridge/internal/model"
)

var magic = [4]byte{'P', 'C', 'T', '1'}

const fileSize = len(magic) + 16

// Cache persists the last accepted percentile parameters between runs.
type Cache struct {
	path string
	log  *zap.SugaredLogger
}

// NewCache creates a cache backed by the file at path.
func NewCache(path string, log *zap.SugaredLogger) *Cache {
	return &Cache{path: path, log: log}
}

// Path returns the backing file location.
func (c *Cache) Path() string { return c.path }

// Load reads the cached parameters. Any problem with the file is logged and
// reported as a miss.
func (c *Cache) Load() (model.PercentileParameters, bool) {
	params, err := c.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.log.Debugw("no cached percentiles", "path", c.path)
		} else {
			c.log.Warnw("ignoring percentile cache", "path", c.path, "error", err)
		}
		return model.PercentileParameters{}, false
	}
	return params, true
}

func (c *Cache) read() (model.PercentileParameters, error) {
	var p model.PercentileParameters
	data, err := os.ReadFile(c.path)
	if err != nil {
		return p, err
	}
	if len(data) != fileSize || !bytes.Equal(data[:len(magic)], magic[:]) {
		return p, fmt.Errorf("unrecognized cache content (%d bytes)", len(data))
	}
	var vals [2]float64
	if err := binary.Read(bytes.NewReader(data[len(magic):]), binary.LittleEndian, &vals); err != nil {
		return p, fmt.Errorf("decode cache: %w", err)
	}
	p = model.PercentileParameters{X: vals[0], Y: vals[1]}
	if err := p.Validate(); err != nil {
		return model.PercentileParameters{}, err
	}
	return p, nil
}

// Save writes params atomically: a temp file in the same directory is renamed over the cache.
func (c *Cache) Save(params model.PercentileParameters) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("save percentiles: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(magic[:])
	if err := binary.Write(&buf, binary.LittleEndian, [2]float64{params.X, params.Y}); err != nil {
		return fmt.Errorf("encode percentiles: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".percentiles-*")
	if err != nil {
		return fmt.Errorf("create temp cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

// PromptFunc asks the operator for parameters, seeded with last.
type PromptFunc func(last model.PercentileParameters) (model.PercentileParameters, error)

// Resolve picks the parameters for a run. In auto mode the cache is used, or the
// defaults when it is empty. Otherwise the operator is prompted and a valid answer
// is saved for next time.
func (c *Cache) Resolve(auto bool, prompt PromptFunc) (model.PercentileParameters, error) {
	last, ok := c.Load()
	if !ok {
		last = model.DefaultPercentiles
	}
	if auto || prompt == nil {
		return last, nil
	}

	params, err := prompt(last)
	if err != nil {
		return model.PercentileParameters{}, err
	}
	if err := params.Validate(); err != nil {
		return model.PercentileParameters{}, err
	}
	if err := c.Save(params); err != nil {
		c.log.Warnw("could not persist percentiles", "path", c.path, "error", err)
	}
	return params, nil
}
