// Package config reads hcl configuration with includes and resolves
// per sensor schedules on top of built-in device defaults.
package config

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/wearable/helpers"
	"github.com/temoto/wearable/log2"
	"github.com/temoto/wearable/reading"
)

const (
	ChannelMemory = "memory"
	ChannelSpq    = "spq"

	FormatJSON     = "json"
	FormatProtobuf = "protobuf"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`
	// only used for Unmarshal, use Sensors
	XXX_Sensors []SensorConfig `hcl:"sensor"`

	LogDebug bool `hcl:"log_debug"`
	Log      struct {
		File       string `hcl:"file"`
		MaxSizeMB  int    `hcl:"max_size_mb"`
		MaxBackups int    `hcl:"max_backups"`
	} `hcl:"log"`

	Scheduler struct {
		Workers             int  `hcl:"workers"`
		OsPriorityHint      bool `hcl:"os_priority_hint"`
		AllowSharedPriority bool `hcl:"allow_shared_priority"`
	} `hcl:"scheduler"`

	Channel struct {
		Backend       string `hcl:"backend"`
		Capacity      int    `hcl:"capacity"`
		SendTimeoutMs int    `hcl:"send_timeout_ms"`
		SpoolDir      string `hcl:"spool_dir"`
	} `hcl:"channel"`

	Rand struct {
		Shared bool  `hcl:"shared"`
		Seed   int64 `hcl:"seed"`
	} `hcl:"rand"`

	Sink struct {
		TimeoutMs int    `hcl:"timeout_ms"`
		DeviceID  string `hcl:"device_id"`
		Log       struct {
			Enable bool `hcl:"enable"`
		} `hcl:"log"`
		HTTP struct {
			Enable     bool   `hcl:"enable"`
			URL        string `hcl:"url"`
			RetryCount int    `hcl:"retry_count"`
		} `hcl:"http"`
		MQTT struct {
			Enable      bool   `hcl:"enable"`
			Broker      string `hcl:"broker"`
			Username    string `hcl:"username"`
			Password    string `hcl:"password"`
			TopicPrefix string `hcl:"topic_prefix"`
			Format      string `hcl:"format"`
			QOS         int    `hcl:"qos"`
			// Optional embedded broker listen URL, e.g. "tcp://127.0.0.1:1883".
			Listen string `hcl:"listen"`
		} `hcl:"mqtt"`
		Redis struct {
			Enable       bool   `hcl:"enable"`
			Addr         string `hcl:"addr"`
			StreamPrefix string `hcl:"stream_prefix"`
			MaxLen       int64  `hcl:"max_len"`
		} `hcl:"redis"`
	} `hcl:"sink"`

	Metrics struct {
		Listen string `hcl:"listen"`
	} `hcl:"metrics"`

	// Resolved after ReadConfig, highest priority first.
	Sensors []Sensor `hcl:"-"`

	_copy_guard sync.Mutex //nolint:unused
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// SensorConfig is raw `sensor "name" {}` block. Nil means not set.
type SensorConfig struct {
	Name         string `hcl:"name,key"`
	Disable      *bool  `hcl:"disable"`
	Priority     *int   `hcl:"priority"`
	PeriodSec    *int   `hcl:"period_sec"`
	PeriodMs     *int   `hcl:"period_ms"`
	Min          *int   `hcl:"min"`
	Max          *int   `hcl:"max"`
	SecondaryMin *int   `hcl:"secondary_min"`
	SecondaryMax *int   `hcl:"secondary_max"`
	Multiplier   *int   `hcl:"multiplier"`
	ResyncTicks  *int   `hcl:"resync_ticks"`
	DriftStep    *int   `hcl:"drift_step"`
}

func (c *Config) SendTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.Channel.SendTimeoutMs, DefaultSendTimeout)
}

func (c *Config) SinkTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.Sink.TimeoutMs, DefaultSinkTimeout)
}

func (c *Config) Sensor(kind reading.Kind) (Sensor, bool) {
	for _, s := range c.Sensors {
		if s.Kind == kind {
			return s, true
		}
	}
	return Sensor{}, false
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil && !source.Optional {
		err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		if _, ok := c.includeSeen[fs.Normalize(include.Name)]; ok {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name))
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig without names returns built-in defaults.
// Later sources override earlier, includes are read right after including source.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if osfs, ok := fs.(*OsFullReader); ok && len(names) != 0 {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, errors.Trace(err)
		}
		names = append([]string{name}, names[1:]...)
	}
	c := &Config{includeSeen: make(map[string]struct{})}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return c, err
	}
	c.applyDefaults()
	if err := c.resolveSensors(); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func (c *Config) applyDefaults() {
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 1
	}
	if c.Channel.Backend == "" {
		c.Channel.Backend = ChannelMemory
	}
	if c.Channel.Capacity == 0 {
		c.Channel.Capacity = DefaultChannelCapacity
	}
	if c.Sink.MQTT.TopicPrefix == "" {
		c.Sink.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if c.Sink.MQTT.Format == "" {
		c.Sink.MQTT.Format = FormatJSON
	}
	if c.Sink.Redis.StreamPrefix == "" {
		c.Sink.Redis.StreamPrefix = DefaultTopicPrefix
	}
}

// resolveSensors applies sensor blocks in source order over kind defaults.
func (c *Config) resolveSensors() error {
	byKind := make(map[reading.Kind]*Sensor, len(reading.AllKinds))
	for _, kind := range reading.AllKinds {
		s := DefaultSensor(kind)
		byKind[kind] = &s
	}
	errs := make([]error, 0)
	for _, raw := range c.XXX_Sensors {
		kind, ok := reading.KindByName(raw.Name)
		if !ok {
			errs = append(errs, errors.NotValidf("sensor name=%s", raw.Name))
			continue
		}
		raw.apply(byKind[kind])
	}
	c.XXX_Sensors = nil

	c.Sensors = c.Sensors[:0]
	for _, kind := range reading.AllKinds {
		if s := byKind[kind]; !s.Disabled {
			c.Sensors = append(c.Sensors, *s)
		}
	}
	sort.SliceStable(c.Sensors, func(i, j int) bool { return c.Sensors[i].Priority > c.Sensors[j].Priority })
	return helpers.FoldErrors(errs)
}

func (raw *SensorConfig) apply(s *Sensor) {
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	if raw.Disable != nil {
		s.Disabled = *raw.Disable
	}
	setInt(&s.Priority, raw.Priority)
	if raw.PeriodSec != nil {
		s.Period = time.Duration(*raw.PeriodSec) * time.Second
	}
	if raw.PeriodMs != nil {
		s.Period = time.Duration(*raw.PeriodMs) * time.Millisecond
	}
	setInt(&s.Primary.Min, raw.Min)
	setInt(&s.Primary.Max, raw.Max)
	setInt(&s.Secondary.Min, raw.SecondaryMin)
	setInt(&s.Secondary.Max, raw.SecondaryMax)
	setInt(&s.Multiplier, raw.Multiplier)
	setInt(&s.ResyncTicks, raw.ResyncTicks)
	setInt(&s.DriftStep, raw.DriftStep)
}
