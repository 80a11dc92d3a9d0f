package config

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/jinzhu/configor"
	"github.com/juju/errors"
)

var (
	config Config
	once   sync.Once
)

const FileName = "config.yaml"

// Get единажды читает и возвращает конфигурацию
func Get() *Config {
	return GetWithPath(FileName)
}

// GetWithPath единожды читает и возвращает конфигурацию
func GetWithPath(filepath string) *Config {
	once.Do(func() {
		if _, err := os.Stat(filepath); err != nil {
			log.Fatalf("файл конфигурации недоступен: %s", err)
		}
		cfg, err := Load(filepath)
		if err != nil {
			log.Fatalf("ошибка чтения файла конфигурации %s: %s", filepath, err)
		}
		config = *cfg
	})
	return &config
}

// Load читает конфигурацию без кеширования. Пустой путь - только значения по умолчанию
func Load(files ...string) (*Config, error) {
	var cfg Config
	if err := configor.Load(&cfg, files...); err != nil {
		return nil, errors.Annotate(err, "чтение конфигурации")
	}
	cfg.normalize()
	return &cfg, nil
}

// Корректировки значений
func (m *Config) normalize() {
	ms := func(d *time.Duration) { *d = *d * time.Millisecond }
	ms(&m.Storage.FlushInterval)
	ms(&m.Peers.OnlineTimeout)
	ms(&m.Peers.RequestInterval)
	ms(&m.Peers.Reconnect)
	ms(&m.Aggregator.ReadingInterval)
	ms(&m.Sensor.Interval)
	ms(&m.Weather.Interval)
	ms(&m.Weather.Timeout)
	ms(&m.Weather.RetryDelay)
	ms(&m.Db.ArchiveInterval)
	ms(&m.Display.Interval)
	ms(&m.Manager.FanoutInterval)
}
