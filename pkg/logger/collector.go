package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig controls log aggregation. Entries at or above MinLevel
// (error when unset; debug and trace are never collected) are grouped by level, message, caller and field names, then published
// every TimeInterval or once CountThreshold distinct groups accumulate.
type CollectionConfig struct {
	TimeInterval   time.Duration
	CountThreshold int
	Topic          string
	Publisher      Publisher
	MinLevel       zerolog.Level
	BufferSize     int
	PublishTimeout time.Duration
}

type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`

	seq uint64
}

type rawEntry struct {
	level, message, caller string
	fields                 map[string]interface{}
	at                     time.Time
}

// LogCollector aggregates entries on a single goroutine. AddLog never
// blocks; entries arriving while the buffer is full are counted in Dropped.
type LogCollector struct {
	cfg     CollectionConfig
	in      chan rawEntry
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	cfg := *config
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.MinLevel <= zerolog.DebugLevel || cfg.MinLevel == zerolog.NoLevel {
		cfg.MinLevel = zerolog.ErrorLevel
	}

	c := &LogCollector{
		cfg:     cfg,
		in:      make(chan rawEntry, cfg.BufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *LogCollector) accepts(level zerolog.Level) bool {
	return level >= c.cfg.MinLevel
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.in <- rawEntry{level: level, message: message, caller: caller, fields: fields, at: time.Now()}:
	default:
		c.dropped.Add(1)
	}
}

// Dropped reports entries discarded because the buffer was full.
func (c *LogCollector) Dropped() int64 { return c.dropped.Load() }

func (c *LogCollector) run() {
	defer close(c.stopped)

	ticker := time.NewTicker(c.cfg.TimeInterval)
	defer ticker.Stop()

	var seq uint64
	groups := make(map[uint64]*AggregatedLogEntry)
	for {
		select {
		case e := <-c.in:
			seq++
			merge(groups, e, seq)
			if len(groups) >= c.cfg.CountThreshold {
				groups = c.publish(groups)
			}
		case <-ticker.C:
			groups = c.publish(groups)
		case <-c.done:
			for {
				select {
				case e := <-c.in:
					seq++
					merge(groups, e, seq)
				default:
					c.publish(groups)
					return
				}
			}
		}
	}
}

func merge(groups map[uint64]*AggregatedLogEntry, e rawEntry, seq uint64) {
	key := fingerprint(e)
	if g, ok := groups[key]; ok {
		g.Count++
		g.LastSeen = e.at
		g.Fields = e.fields
		return
	}
	groups[key] = &AggregatedLogEntry{
		Level:     e.level,
		Message:   e.message,
		Fields:    e.fields,
		Caller:    e.caller,
		Count:     1,
		FirstSeen: e.at,
		LastSeen:  e.at,
		seq:       seq,
	}
}

// fingerprint ignores field values so repeats with different ids or
// latencies fold into one group.
func fingerprint(e rawEntry) uint64 {
	names := make([]string, 0, len(e.fields))
	for k := range e.fields {
		names = append(names, k)
	}
	sort.Strings(names)

	h := fnv.New64a()
	for _, s := range append([]string{e.level, e.message, e.caller}, names...) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// publish sends the batch ordered by first occurrence and returns an empty map.
func (c *LogCollector) publish(groups map[uint64]*AggregatedLogEntry) map[uint64]*AggregatedLogEntry {
	if len(groups) == 0 {
		return groups
	}
	batch := make([]AggregatedLogEntry, 0, len(groups))
	for _, g := range groups {
		batch = append(batch, *g)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })

	if c.cfg.Publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
		err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch)
		cancel()
		if err != nil {
			// The logger cannot log its own transport failure.
			fmt.Fprintf(os.Stderr, "log collector: publish %d entries to %s: %v\n", len(batch), c.cfg.Topic, err)
		}
	}
	return make(map[uint64]*AggregatedLogEntry)
}

// Close flushes pending entries and waits for the final publish.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.done) })
	<-c.stopped
}
